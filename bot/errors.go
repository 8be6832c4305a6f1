package bot

import "errors"

var (
	// Lifecycle errors. These move a machine to the broken state and
	// propagate to the caller.
	ErrAlreadyInitialized = errors.New("strategy already initialized")
	ErrNotInitialized     = errors.New("strategy not initialized")

	// ErrNotRunning is returned when Execute is called outside the running
	// state, e.g. before Start or after Stop.
	ErrNotRunning = errors.New("strategy not running")

	// ErrReentrancy rejects an Execute that would overlap an in-flight one
	// for the same machine. Expected under load; never logged as an error.
	ErrReentrancy = errors.New("execution already in flight")

	ErrDuplicateAccount = errors.New("account already registered")
	ErrUnknownAccount   = errors.New("account not registered")
	ErrUnknownStrategy  = errors.New("unknown strategy kind")

	// ErrRiskLimit means a check-and-reserve would push an account past its
	// ceiling. The account state is left untouched.
	ErrRiskLimit = errors.New("risk limit exceeded")
)
