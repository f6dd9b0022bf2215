// Package correlation tracks in-flight requests on a gateway connection
// and matches inbound response frames to the caller awaiting them.
//
// The table is the only owner of the pending map. Callers register a
// correlation ID and wait on the returned Call; the connection's dispatch
// path feeds responses in via HandleResponse. A request registered for
// two-phase completion stays pending through an interim "accepted"
// acknowledgment and resolves on the final frame with the same ID.
package correlation

import (
	"errors"
	"sync"

	"github.com/agentwire-protocol/agentwire-go/pkg/wire"
)

// Table errors.
var (
	// ErrDuplicateID indicates a correlation ID registered while a
	// request with the same ID is still outstanding.
	ErrDuplicateID = errors.New("correlation id already pending")
)

// Result is the terminal outcome of a call: the final response frame, or
// the error that cancelled it.
type Result struct {
	Response *wire.Response
	Err      error
}

// Call is the handle a caller waits on for its response.
type Call struct {
	id       string
	twoPhase bool

	// Buffered so delivery never blocks the dispatch path.
	done chan Result
}

// ID returns the correlation ID of this call.
func (c *Call) ID() string {
	return c.id
}

// Done returns the channel the terminal result is delivered on.
// Exactly one Result is ever delivered.
func (c *Call) Done() <-chan Result {
	return c.done
}

// Table maintains the set of in-flight requests keyed by correlation ID.
// Safe for concurrent use by the request path and the dispatch path.
type Table struct {
	mu      sync.Mutex
	pending map[string]*Call
}

// NewTable creates an empty correlation table.
func NewTable() *Table {
	return &Table{
		pending: make(map[string]*Call),
	}
}

// Register allocates a pending entry for a caller-chosen correlation ID.
// IDs must be unique among outstanding requests; registering a duplicate
// is a programming error and fails immediately.
func (t *Table) Register(id string, twoPhase bool) (*Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return nil, ErrDuplicateID
	}

	call := &Call{
		id:       id,
		twoPhase: twoPhase,
		done:     make(chan Result, 1),
	}
	t.pending[id] = call
	return call, nil
}

// HandleResponse routes an inbound response frame to the caller awaiting
// it. Frames with no matching entry are dropped: they may belong to a
// request that already timed out, or to a handshake handled elsewhere.
// Returns true if the frame was consumed by a pending entry.
func (t *Table) HandleResponse(res *wire.Response) bool {
	t.mu.Lock()
	call, exists := t.pending[res.ID]
	if !exists {
		t.mu.Unlock()
		return false
	}

	// An interim acknowledgment keeps the entry pending; the caller keeps
	// waiting for the final frame with the same ID.
	if call.twoPhase && res.OK && wire.IsAcceptedPayload(res.Payload) {
		t.mu.Unlock()
		return true
	}

	delete(t.pending, res.ID)
	t.mu.Unlock()

	call.done <- Result{Response: res}
	return true
}

// Cancel removes a pending entry without delivering a result, typically
// when the caller's timeout fired. Returns false if the entry was already
// resolved or cancelled; a response arriving after that point is dropped
// by HandleResponse.
func (t *Table) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; !exists {
		return false
	}
	delete(t.pending, id)
	return true
}

// CancelAll rejects every pending entry with the same terminal error and
// clears the table. Called on socket closure so no caller waits forever
// past a dead connection.
func (t *Table) CancelAll(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]*Call)
	t.mu.Unlock()

	for _, call := range pending {
		call.done <- Result{Err: err}
	}
}

// Len returns the number of in-flight requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
