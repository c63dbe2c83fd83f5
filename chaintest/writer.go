package chaintest

import (
	"sync"

	chain "github.com/mirrorstream/chain"
)

// RecordWriter is an in-memory chain.RecordWriter double standing in
// for the network output layer the chain treats as out of scope
// (spec.md §1, §6): it simply remembers everything a networkWriterOutput
// hands it, so a test can assert on what crossed the task boundary.
type RecordWriter[T any] struct {
	mu       sync.Mutex
	records  []*chain.StreamRecord[T]
	events   []chain.Event
	flushes  int
	closed   bool
	failNext error
}

// NewRecordWriter returns an empty RecordWriter.
func NewRecordWriter[T any]() *RecordWriter[T] { return &RecordWriter[T]{} }

// FailNext makes the next call to EmitRecord, BroadcastEvent, or Flush
// return err instead of succeeding, then clears itself. It exists to
// exercise the chain's I/O-failure propagation path (spec.md §7).
func (w *RecordWriter[T]) FailNext(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failNext = err
}

func (w *RecordWriter[T]) takeFailure() error {
	err := w.failNext
	w.failNext = nil
	return err
}

// EmitRecord implements chain.RecordWriter.
func (w *RecordWriter[T]) EmitRecord(record *chain.StreamRecord[T]) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.takeFailure(); err != nil {
		return err
	}
	w.records = append(w.records, record)
	return nil
}

// BroadcastEvent implements chain.RecordWriter.
func (w *RecordWriter[T]) BroadcastEvent(event chain.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.takeFailure(); err != nil {
		return err
	}
	w.events = append(w.events, event)
	return nil
}

// Flush implements chain.RecordWriter.
func (w *RecordWriter[T]) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.takeFailure(); err != nil {
		return err
	}
	w.flushes++
	return nil
}

// Close implements chain.RecordWriter. It is idempotent, matching the
// contract spec.md §4.5 requires of the real network writer.
func (w *RecordWriter[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Records returns every record EmitRecord has received, in order.
func (w *RecordWriter[T]) Records() []*chain.StreamRecord[T] {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*chain.StreamRecord[T], len(w.records))
	copy(out, w.records)
	return out
}

// Events returns every event BroadcastEvent has received, in order.
func (w *RecordWriter[T]) Events() []chain.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]chain.Event, len(w.events))
	copy(out, w.events)
	return out
}

// Flushes returns how many times Flush has been called.
func (w *RecordWriter[T]) Flushes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushes
}

// Closed reports whether Close has been called at least once.
func (w *RecordWriter[T]) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// StaticStatusProvider is a chain.StreamStatusProvider double whose
// status a test can flip directly, without needing a full Controller
// (scenario C).
type StaticStatusProvider struct {
	mu     sync.Mutex
	status chain.StreamStatus
}

// NewStaticStatusProvider returns a provider starting at the given
// status.
func NewStaticStatusProvider(status chain.StreamStatus) *StaticStatusProvider {
	return &StaticStatusProvider{status: status}
}

// GetStreamStatus implements chain.StreamStatusProvider.
func (p *StaticStatusProvider) GetStreamStatus() chain.StreamStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Set updates the status a later GetStreamStatus call observes.
func (p *StaticStatusProvider) Set(status chain.StreamStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}
