package session

import (
	"context"

	"github.com/looplab/fsm"
)

// State состояние сессии
type State string

const (
	StateCreated     State = "created"
	StatePending     State = "pending"
	StateEstablished State = "established"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
	StateRejected    State = "rejected"
	StateAborted     State = "aborted"
	StateError       State = "error"
)

// String возвращает строковое представление состояния
func (s State) String() string {
	return string(s)
}

// IsTerminal сообщает, что из состояния нет переходов
func (s State) IsTerminal() bool {
	switch s {
	case StateTerminated, StateRejected, StateAborted, StateError:
		return true
	}
	return false
}

// События машины состояний
const (
	eventStart      = "start"
	eventEstablish  = "establish"
	eventTerminate  = "terminate"
	eventTerminated = "terminated"
	eventReject     = "reject"
	eventAbort      = "abort"
	eventFail       = "fail"
)

// newStateMachine создает машину состояний сессии. Из терминальных
// состояний события не объявлены, поэтому любые переходы из них отклоняются.
func newStateMachine(onChange func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateCreated),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateCreated)}, Dst: string(StatePending)},
			{Name: eventEstablish, Src: []string{string(StatePending)}, Dst: string(StateEstablished)},
			{Name: eventTerminate, Src: []string{string(StateEstablished)}, Dst: string(StateTerminating)},
			{Name: eventTerminated, Src: []string{string(StateEstablished), string(StateTerminating)}, Dst: string(StateTerminated)},
			{Name: eventReject, Src: []string{string(StatePending)}, Dst: string(StateRejected)},
			{Name: eventAbort, Src: []string{string(StateCreated), string(StatePending), string(StateEstablished), string(StateTerminating)}, Dst: string(StateAborted)},
			{Name: eventFail, Src: []string{string(StateCreated), string(StatePending), string(StateEstablished), string(StateTerminating)}, Dst: string(StateError)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
