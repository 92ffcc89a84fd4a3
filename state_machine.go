package session

import (
	"fmt"
)

// State is the session lifecycle state. Exactly one holds at a time.
type State string

const (
	// StateAnonymous is the initial state: no identity, no credential.
	StateAnonymous State = "anonymous"
	// StateAuthenticating is transient, entered when a login or register
	// submit is in flight.
	StateAuthenticating State = "authenticating"
	// StatePendingVerification holds an account whose email has not been
	// verified yet. No credential is active in this state.
	StatePendingVerification State = "pending_verification"
	// StateAuthenticated holds a verified account with an active credential.
	StateAuthenticated State = "authenticated"
	// StateFailed records the last operation's failure reason.
	StateFailed State = "failed"
)

// Status is the session snapshot observed by the rest of the application.
// Account is set for pending verification and authenticated, Reason for
// failed.
type Status struct {
	State   State
	Account *Account
	Reason  error
}

func (s Status) String() string {
	switch s.State {
	case StatePendingVerification, StateAuthenticated:
		email := ""
		if s.Account != nil {
			email = s.Account.Email
		}
		return fmt.Sprintf("%s(%s)", s.State, email)
	case StateFailed:
		return fmt.Sprintf("%s(%v)", s.State, s.Reason)
	default:
		return string(s.State)
	}
}

// Anonymous returns the initial session status.
func Anonymous() Status {
	return Status{State: StateAnonymous}
}

type stateMachine struct {
	transitions map[State]map[State]struct{}
}

// Every state allows anonymous because logout may fire at any time, and
// anonymous/authenticated is reachable directly when the provider change
// stream restores a session after a restart. Pending verification leaves only
// through a fresh login attempt or a logout; any path to authenticated
// routes through authenticating.
func newStateMachine() *stateMachine {
	return &stateMachine{
		transitions: map[State]map[State]struct{}{
			StateAnonymous: {
				StateAuthenticating: {},
				StateAuthenticated:  {},
			},
			StateAuthenticating: {
				StateAuthenticated:       {},
				StatePendingVerification: {},
				StateFailed:              {},
				StateAnonymous:           {},
			},
			StatePendingVerification: {
				StateAuthenticating: {},
				StateAnonymous:      {},
			},
			StateAuthenticated: {
				StateAuthenticating: {},
				StateAnonymous:      {},
			},
			StateFailed: {
				StateAuthenticating: {},
				StateAnonymous:      {},
			},
		},
	}
}

func (sm *stateMachine) canTransition(from, to State) bool {
	if from == to {
		return true
	}
	allowed, ok := sm.transitions[from]
	if !ok {
		return false
	}
	_, exists := allowed[to]
	return exists
}
