package correlation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentwire-protocol/agentwire-go/pkg/wire"
)

func TestResolveMatchingID(t *testing.T) {
	table := NewTable()

	call, err := table.Register("req-1", false)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	res := &wire.Response{ID: "req-1", OK: true, Payload: json.RawMessage(`{"x":1}`)}
	if !table.HandleResponse(res) {
		t.Fatal("response was not consumed")
	}

	select {
	case result := <-call.Done():
		if result.Err != nil {
			t.Fatalf("unexpected error: %v", result.Err)
		}
		if result.Response.ID != "req-1" || !result.Response.OK {
			t.Errorf("wrong response delivered: %+v", result.Response)
		}
	default:
		t.Fatal("no result delivered")
	}

	if table.Len() != 0 {
		t.Errorf("table not empty after resolution: %d", table.Len())
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	table := NewTable()

	if _, err := table.Register("dup", false); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Register("dup", false); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("error = %v, want ErrDuplicateID", err)
	}

	// After resolution the ID may be reused.
	table.HandleResponse(&wire.Response{ID: "dup", OK: true})
	if _, err := table.Register("dup", false); err != nil {
		t.Errorf("re-register after resolution failed: %v", err)
	}
}

func TestUnknownIDDropped(t *testing.T) {
	table := NewTable()

	if table.HandleResponse(&wire.Response{ID: "ghost", OK: true}) {
		t.Error("unknown response was consumed")
	}
}

func TestTwoPhaseCompletion(t *testing.T) {
	table := NewTable()

	call, err := table.Register("task-1", true)
	if err != nil {
		t.Fatal(err)
	}

	// The interim acknowledgment neither resolves nor rejects.
	accepted := &wire.Response{ID: "task-1", OK: true, Payload: json.RawMessage(`{"status":"accepted"}`)}
	if !table.HandleResponse(accepted) {
		t.Fatal("interim frame was not consumed")
	}
	select {
	case <-call.Done():
		t.Fatal("interim acknowledgment resolved the call")
	default:
	}
	if table.Len() != 1 {
		t.Fatal("entry removed on interim acknowledgment")
	}

	// The final frame with the same ID resolves exactly once.
	final := &wire.Response{ID: "task-1", OK: true, Payload: json.RawMessage(`{"status":"ok","result":"hello"}`)}
	if !table.HandleResponse(final) {
		t.Fatal("final frame was not consumed")
	}

	result := <-call.Done()
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if string(result.Response.Payload) != `{"status":"ok","result":"hello"}` {
		t.Errorf("resolved with wrong payload: %s", result.Response.Payload)
	}
}

func TestTwoPhaseErrorIsFinal(t *testing.T) {
	table := NewTable()

	call, err := table.Register("task-1", true)
	if err != nil {
		t.Fatal(err)
	}

	// ok:false is terminal even for two-phase calls.
	table.HandleResponse(&wire.Response{ID: "task-1", OK: false,
		Error: &wire.ErrorDetail{Message: "agent crashed"}})

	result := <-call.Done()
	if result.Response == nil || result.Response.OK {
		t.Fatalf("expected failed response, got %+v", result)
	}
}

func TestSinglePhaseIgnoresAcceptedSentinel(t *testing.T) {
	table := NewTable()

	call, err := table.Register("req-1", false)
	if err != nil {
		t.Fatal(err)
	}

	// Without twoPhase the "accepted" payload is just a final payload.
	table.HandleResponse(&wire.Response{ID: "req-1", OK: true, Payload: json.RawMessage(`{"status":"accepted"}`)})

	select {
	case result := <-call.Done():
		if result.Response == nil {
			t.Fatal("expected response")
		}
	default:
		t.Fatal("single-phase call did not resolve")
	}
}

func TestCancelAll(t *testing.T) {
	table := NewTable()

	const n = 8
	calls := make([]*Call, n)
	for i := range calls {
		call, err := table.Register(fmt.Sprintf("req-%d", i), i%2 == 0)
		if err != nil {
			t.Fatal(err)
		}
		calls[i] = call
	}

	cause := errors.New("socket closed")
	table.CancelAll(cause)

	for i, call := range calls {
		select {
		case result := <-call.Done():
			if !errors.Is(result.Err, cause) {
				t.Errorf("call %d: error = %v, want %v", i, result.Err, cause)
			}
		case <-time.After(time.Second):
			t.Fatalf("call %d never rejected", i)
		}
	}

	if table.Len() != 0 {
		t.Errorf("table not empty after CancelAll: %d", table.Len())
	}
}

func TestCancelThenLateResponse(t *testing.T) {
	table := NewTable()

	call, err := table.Register("req-1", false)
	if err != nil {
		t.Fatal(err)
	}

	if !table.Cancel("req-1") {
		t.Fatal("Cancel returned false for pending entry")
	}
	if table.Cancel("req-1") {
		t.Error("Cancel returned true for removed entry")
	}

	// A response arriving after cancellation is dropped.
	if table.HandleResponse(&wire.Response{ID: "req-1", OK: true}) {
		t.Error("late response was consumed")
	}
	select {
	case <-call.Done():
		t.Error("cancelled call received a result")
	default:
	}
}

func TestConcurrentCallersEachGetOwnResponse(t *testing.T) {
	table := NewTable()

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("req-%d", i)
		call, err := table.Register(id, false)
		if err != nil {
			t.Fatal(err)
		}

		wg.Add(1)
		go func(id string, call *Call) {
			defer wg.Done()
			result := <-call.Done()
			if result.Err != nil {
				errs <- result.Err
				return
			}
			if result.Response.ID != id {
				errs <- fmt.Errorf("call %s got response %s", id, result.Response.ID)
			}
		}(id, call)
	}

	// Deliver responses out of order.
	for i := n - 1; i >= 0; i-- {
		go table.HandleResponse(&wire.Response{ID: fmt.Sprintf("req-%d", i), OK: true})
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
