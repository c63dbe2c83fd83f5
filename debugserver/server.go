// Package debugserver exposes a read-only operational surface over a
// running chain.Controller: a health check, a snapshot of the
// assembled chain, and a websocket tail of chain lifecycle log events.
// It never touches the per-record path (SPEC_FULL §6.2); it is adapted
// from the teacher's own Pipe, which hosts a fiber.App for the same
// kind of health/introspection surface alongside its streams.
package debugserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	chain "github.com/mirrorstream/chain"
)

// LogEvent is one chain lifecycle or metric record, as tailed over the
// /chain/ws websocket.
type LogEvent struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ControllerView is the narrow, type-parameter-free subset of
// *chain.Controller[In] the debug server needs. Every
// *chain.Controller[In], for every In, satisfies it structurally,
// since none of these three accessors depend on the chain's element
// type (spec.md §4.7.a, §5's cross-goroutine exception).
type ControllerView interface {
	Snapshot() chain.ControllerSnapshot
	GetStreamStatus() chain.StreamStatus
	GetChainLength() int
}

// Server is the fiber-based debug HTTP+websocket surface.
type Server struct {
	app  *fiber.App
	ctrl ControllerView

	mu      sync.Mutex
	clients map[chan LogEvent]struct{}
}

// New builds a Server over ctrl. If logs is non-nil, every event it
// produces is fanned out to every connected /chain/ws client; New
// starts the fan-out goroutine immediately.
func New(ctrl ControllerView, logs <-chan LogEvent) *Server {
	s := &Server{
		app:     fiber.New(),
		ctrl:    ctrl,
		clients: map[chan LogEvent]struct{}{},
	}

	s.app.Use(recover.New())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"chain_length":  s.ctrl.GetChainLength(),
			"stream_status": s.ctrl.GetStreamStatus().String(),
		})
	})

	s.app.Get("/chain", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(s.ctrl.Snapshot())
	})

	s.app.Use("/chain/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/chain/ws", websocket.New(func(conn *websocket.Conn) {
		ch := make(chan LogEvent, 64)
		s.addClient(ch)
		defer s.removeClient(ch)

		for ev := range ch {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}))

	if logs != nil {
		go s.fanOut(logs)
	}

	return s
}

// Listen starts serving on addr; it blocks until the server stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) addClient(ch chan LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[ch] = struct{}{}
}

func (s *Server) removeClient(ch chan LogEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, ch)
	close(ch)
}

func (s *Server) fanOut(logs <-chan LogEvent) {
	for ev := range logs {
		s.mu.Lock()
		for ch := range s.clients {
			select {
			case ch <- ev:
			default:
				// slow client: drop rather than block the log producer
			}
		}
		s.mu.Unlock()
	}
}
