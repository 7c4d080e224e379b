package protocol

// Run event names. These appear both as the "event" field of event-log lines
// and as EventFrame.Event pushed to WebSocket clients.
const (
	EventRunStart        = "run_start"
	EventModelsResolved  = "models_resolved"
	EventLoginRequired   = "login_required"
	EventAutoLoginOK     = "auto_login_success"
	EventAutoLoginFailed = "auto_login_failed"

	EventProfileExtracted = "profile_extracted"
	EventEmptyProfile     = "empty_profile"
	EventDuplicate        = "duplicate"
	EventDecision         = "decision"
	EventModelUsage       = "model_usage"

	EventShadowSend      = "shadow_send"
	EventPendingApproval = "pending_approval"
	EventSent            = "sent"
	EventSendFailed      = "send_failed"

	EventQuotaCheck     = "quota_check"
	EventQuotaExhausted = "quota_exhausted"
	EventStopped        = "stopped"

	EventProfileError = "profile_processing_error"
	EventRunComplete  = "run_complete"

	// Gateway-mode extras.
	EventScheduleSkipped = "schedule_skipped"
	EventPlannerTurn     = "planner_turn"
)

// Run completion reasons (run_complete.reason).
const (
	ReasonExhausted = "exhausted"
	ReasonQuota     = "quota"
	ReasonStopped   = "stopped"
)

// Stop locations (stopped.where), in send-path order.
const (
	StopAtSendStart    = "send_start"
	StopAtBeforeFocus  = "before_focus"
	StopAtBeforeSubmit = "before_submit"
	StopAtBeforeRetry  = "before_retry"
	StopAtPacing       = "pacing"
)
