package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(d.Close)

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(KindVehicleDeparted, func(e Event) error {
		got = e
		return nil
	})

	err := d.Dispatch(Event{Kind: KindVehicleDeparted, ID: "veh0", Tick: 3})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got.ID != "veh0" || got.Tick != 3 {
		t.Errorf("handler saw %+v", got)
	}
}

func TestDispatcher_UnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(Event{Kind: "nope"})

	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}

func TestDispatcher_FanOutInOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var order []int
	d.Register(KindTick, func(e Event) error { order = append(order, 1); return nil })
	d.Register(KindTick, func(e Event) error { order = append(order, 2); return errors.New("second") })
	d.Register(KindTick, func(e Event) error { order = append(order, 3); return nil })

	err := d.Dispatch(Event{Kind: KindTick})

	if err == nil || !strings.Contains(err.Error(), "second") {
		t.Errorf("expected joined error, got %v", err)
	}
	if fmt.Sprint(order) != "[1 2 3]" {
		t.Errorf("handlers ran as %v", order)
	}
}

func TestDispatcher_ClosedRejectsEvents(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls atomic.Int32
	d.Register(KindTick, func(e Event) error {
		calls.Add(1)
		return nil
	})

	if err := d.Dispatch(Event{Kind: KindTick}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.Close()
	d.Close()

	if err := d.Dispatch(Event{Kind: KindTick}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDispatcher_JoinsHandlerErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)

	errA, errB := errors.New("a failed"), errors.New("b failed")
	var ran atomic.Int32
	d.Register(KindVehicleVars, func(e Event) error { ran.Add(1); return errA })
	d.Register(KindVehicleVars, func(e Event) error { ran.Add(1); return nil })
	d.Register(KindVehicleVars, func(e Event) error { ran.Add(1); return errB })

	err := d.Dispatch(Event{Kind: KindVehicleVars, ID: "v0"})
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("expected both errors, got %v", err)
	}
	if ran.Load() != 3 {
		t.Errorf("expected every handler to run, ran %d", ran.Load())
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(KindSignalVars, func(e Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Event{Kind: KindSignalVars, ID: "J1"})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(KindVehicleArrived, func(e Event) error { return nil })

	if !d.HasHandler(KindVehicleArrived) {
		t.Error("expected handler to exist")
	}

	if d.HasHandler(KindVehicleDeparted) {
		t.Error("expected handler to not exist")
	}
}
