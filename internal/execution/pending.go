package execution

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/codex-k8s/browser-mcp-relay/internal/maputil"
)

type response struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	msgType string
	ch      chan response
}

// PendingStore correlates forwarded requests with executor responses.
// Every entry leaves the store exactly once.
type PendingStore struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewPendingStore creates an empty store.
func NewPendingStore() *PendingStore {
	return &PendingStore{pending: make(map[string]*pendingRequest)}
}

// Register allocates a pending slot for id.
func (s *PendingStore) Register(id, msgType string) (<-chan response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[id]; exists {
		return nil, errRequestAlreadyPending
	}
	ch := make(chan response, 1)
	s.pending[id] = &pendingRequest{msgType: msgType, ch: ch}
	return ch, nil
}

// Resolve delivers a response for id. It returns false when id is unknown,
// which covers responses arriving after their timeout.
func (s *PendingStore) Resolve(id string, payload json.RawMessage, remoteErr string) bool {
	entry, ok := maputil.Pop(&s.mu, s.pending, id)
	if !ok {
		return false
	}
	resp := response{payload: payload}
	if remoteErr != "" {
		resp.err = &RemoteError{Type: entry.msgType, Message: remoteErr}
	}
	entry.ch <- resp
	return true
}

// Cancel removes id without a response.
func (s *PendingStore) Cancel(id string) bool {
	_, ok := maputil.Pop(&s.mu, s.pending, id)
	return ok
}

// FailAll rejects every pending entry with err.
func (s *PendingStore) FailAll(err error) int {
	entries := maputil.Drain(&s.mu, &s.pending)
	for _, entry := range entries {
		entry.ch <- response{err: err}
	}
	return len(entries)
}

// Len returns the number of outstanding requests.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

var errRequestAlreadyPending = errors.New("request already pending")
