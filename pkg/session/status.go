package session

import (
	"github.com/felixgeelhaar/statekit"
)

// Status of the workflow as shown to the user
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	stateIdle    statekit.StateID = statekit.StateID(StatusIdle)
	stateLoading statekit.StateID = statekit.StateID(StatusLoading)
	stateSuccess statekit.StateID = statekit.StateID(StatusSuccess)
	stateError   statekit.StateID = statekit.StateID(StatusError)
)

// Events that move a session between statuses
const (
	// evLoad starts decoding a new image
	evLoad statekit.EventType = "LOAD"
	// evLoaded puts a freshly decoded image in place
	evLoaded statekit.EventType = "LOADED"
	// evCommit starts rendering the live region
	evCommit statekit.EventType = "COMMIT"
	// evRendered stores a finished rendering
	evRendered statekit.EventType = "RENDERED"
	// evInvalidate drops a rendering that no longer matches the region
	evInvalidate statekit.EventType = "INVALIDATE"
	evFail       statekit.EventType = "FAIL"
	evReset      statekit.EventType = "RESET"
)

// history is the machine context. It counts transitions and keeps the
// last event so a status can be traced back to what caused it.
type history struct {
	last  statekit.EventType
	count int
}

func recordEvent(ctx **history, event statekit.Event) {
	if ctx == nil || *ctx == nil {
		return
	}
	(*ctx).last = event.Type
	(*ctx).count++
}

// newStatusMachine builds the session statechart. Every event that can
// reach a state is declared on it, so Send never meets an unknown event.
func newStatusMachine() (*statekit.MachineConfig[*history], error) {
	return statekit.NewMachine[*history]("session").
		WithInitial(stateIdle).
		WithContext(&history{}).
		WithAction("record", recordEvent).
		State(stateIdle).
			On(evLoad).Target(stateLoading).Do("record").
			On(evLoaded).Target(stateIdle).Do("record").
			On(evCommit).Target(stateLoading).Do("record").
			On(evFail).Target(stateError).Do("record").
			On(evReset).Target(stateIdle).Do("record").
			Done().
		State(stateLoading).
			On(evLoad).Target(stateLoading).Do("record").
			On(evLoaded).Target(stateIdle).Do("record").
			On(evRendered).Target(stateSuccess).Do("record").
			On(evFail).Target(stateError).Do("record").
			On(evReset).Target(stateIdle).Do("record").
			Done().
		State(stateSuccess).
			On(evLoad).Target(stateLoading).Do("record").
			On(evCommit).Target(stateLoading).Do("record").
			On(evInvalidate).Target(stateIdle).Do("record").
			On(evFail).Target(stateError).Do("record").
			On(evReset).Target(stateIdle).Do("record").
			Done().
		State(stateError).
			On(evLoad).Target(stateLoading).Do("record").
			On(evLoaded).Target(stateIdle).Do("record").
			On(evCommit).Target(stateLoading).Do("record").
			On(evFail).Target(stateError).Do("record").
			On(evReset).Target(stateIdle).Do("record").
			Done().
		Build()
}

var statusMachine = mustStatusMachine()

func mustStatusMachine() *statekit.MachineConfig[*history] {
	m, err := newStatusMachine()
	if err != nil {
		panic(err)
	}
	return m
}

// statusTracker runs one interpreter of the status machine. It is guarded
// by the owning session's mutex.
type statusTracker struct {
	interp *statekit.Interpreter[*history]
	hist   *history
}

func newStatusTracker() *statusTracker {
	hist := &history{}
	interp := statekit.NewInterpreter(statusMachine)
	interp.UpdateContext(func(c **history) {
		*c = hist
	})
	interp.Start()
	return &statusTracker{interp: interp, hist: hist}
}

func (t *statusTracker) send(ev statekit.EventType) {
	t.interp.Send(statekit.Event{Type: ev})
}

func (t *statusTracker) status() Status {
	return Status(t.interp.State().Value)
}

func (t *statusTracker) is(status Status) bool {
	return t.interp.Matches(statekit.StateID(status))
}
