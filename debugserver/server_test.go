package debugserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chain "github.com/mirrorstream/chain"
)

type fakeControllerView struct {
	snapshot chain.ControllerSnapshot
	status   chain.StreamStatus
	length   int
}

func (f fakeControllerView) Snapshot() chain.ControllerSnapshot  { return f.snapshot }
func (f fakeControllerView) GetStreamStatus() chain.StreamStatus { return f.status }
func (f fakeControllerView) GetChainLength() int                 { return f.length }

func TestHealthReportsChainLengthAndStatus(t *testing.T) {
	ctrl := fakeControllerView{status: chain.StatusActive, length: 3}
	s := New(ctrl, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(3), body["chain_length"])
	assert.Equal(t, "ACTIVE", body["stream_status"])
}

func TestChainReturnsSnapshot(t *testing.T) {
	ctrl := fakeControllerView{
		snapshot: chain.ControllerSnapshot{
			Operators:   []chain.OperatorInfo{{ID: "op-1", Type: "map"}},
			OutputCount: 2,
		},
		status: chain.StatusIdle,
	}
	s := New(ctrl, nil)

	req := httptest.NewRequest(http.MethodGet, "/chain", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out chain.ControllerSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.OutputCount)
	require.Len(t, out.Operators, 1)
	assert.Equal(t, "op-1", out.Operators[0].ID)
}

func TestFanOutDeliversToConnectedClients(t *testing.T) {
	logs := make(chan LogEvent, 1)
	s := New(fakeControllerView{}, logs)
	defer func() { close(logs) }()

	ch := make(chan LogEvent, 1)
	s.addClient(ch)
	defer s.removeClient(ch)

	logs <- LogEvent{Message: "chain constructed"}

	select {
	case ev := <-ch:
		assert.Equal(t, "chain constructed", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("fan-out did not deliver event in time")
	}
}
