package protocol

// RPC method name constants.
const (
	// System
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"

	// Run control
	MethodRunStart  = "run.start"
	MethodRunStop   = "run.stop"
	MethodRunStatus = "run.status"

	// Config
	MethodConfigGet   = "config.get"
	MethodConfigPatch = "config.patch"

	// Stores
	MethodQuotaGet  = "quota.get"
	MethodSeenCount = "seen.count"
)

// Error codes returned in ResponseFrame.Error.Code.
const (
	ErrCodeAuth          = "auth_failed"
	ErrCodeBadParams     = "bad_params"
	ErrCodeUnknownMethod = "unknown_method"
	ErrCodeRunActive     = "run_active"
	ErrCodeNoRun         = "no_run"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInternal      = "internal"
)
