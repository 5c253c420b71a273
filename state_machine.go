package portal

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_AUTH_STATE_TRANSITION"
	textCodeTerminalState     = "TERMINAL_AUTH_STATE"
)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid auth state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from the closed state.
var ErrTerminalState = goerrors.New("auth state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// AuthState is the lifecycle state of a provider session
type AuthState string

const (
	StateUninitialized   AuthState = "uninitialized"
	StateLoading         AuthState = "loading"
	StateAuthenticated   AuthState = "authenticated"
	StateUnauthenticated AuthState = "unauthenticated"
	StateClosed          AuthState = "closed"
)

// AdminResolution decorates the authenticated state with the outcome of the
// administrator privilege lookup.
type AdminResolution string

const (
	AdminPending AdminResolution = "pending"
	AdminGranted AdminResolution = "granted"
	AdminDenied  AdminResolution = "denied"
)

var authTransitions = map[AuthState]map[AuthState]struct{}{
	StateUninitialized: {
		StateLoading: {},
		StateClosed:  {},
	},
	StateLoading: {
		StateAuthenticated:   {},
		StateUnauthenticated: {},
		StateClosed:          {},
	},
	StateAuthenticated: {
		StateAuthenticated:   {},
		StateUnauthenticated: {},
		StateClosed:          {},
	},
	StateUnauthenticated: {
		StateAuthenticated:   {},
		StateUnauthenticated: {},
		StateClosed:          {},
	},
}

// CanTransition reports whether the state machine allows moving from one
// state to another. Self transitions are allowed on the settled states so
// a token refresh or a repeated sign out is not an error.
func CanTransition(from, to AuthState) bool {
	if allowed, ok := authTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func checkTransition(from, to AuthState) error {
	if from == StateClosed {
		return ErrTerminalState.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   to,
		})
	}
	if !CanTransition(from, to) {
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   to,
		})
	}
	return nil
}

// Snapshot is an immutable view of the provider state. Values returned by
// the provider are never mutated after publication.
type Snapshot struct {
	State     AuthState       `json:"state"`
	Loading   bool            `json:"loading"`
	Principal *Principal      `json:"principal,omitempty"`
	Session   *Session        `json:"-"`
	Admin     AdminResolution `json:"admin"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// IsAdministrator is true only when a principal is present and the
// privilege lookup granted administrator access.
func (s Snapshot) IsAdministrator() bool {
	return s.Principal != nil && s.Admin == AdminGranted
}

// Authenticated reports whether a principal is present
func (s Snapshot) Authenticated() bool {
	return s.Principal != nil
}

// AdminSettled reports whether the admin resolution for the current
// principal finished.
func (s Snapshot) AdminSettled() bool {
	return s.Principal == nil || s.Admin != AdminPending
}

// loopState is owned by the provider loop goroutine.
type loopState struct {
	state     AuthState
	loading   bool
	principal *Principal
	session   *Session
	admin     AdminResolution
	adminGen  uint64
	version   uint64
}

func (st *loopState) snapshot(now time.Time) *Snapshot {
	return &Snapshot{
		State:     st.state,
		Loading:   st.loading,
		Principal: st.principal,
		Session:   st.session,
		Admin:     st.admin,
		Version:   st.version,
		UpdatedAt: now,
	}
}
