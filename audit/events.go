package audit

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted  = "job.submitted"
	ActionJobFinished   = "job.finished"
	ActionItemStarted   = "item.started"
	ActionItemSucceeded = "item.succeeded"
	ActionItemRetrying  = "item.retrying"
	ActionItemFailed    = "item.failed"
)

// Audit event categories group related actions.
const (
	CategoryJob  = "soundpipe.job"
	CategoryItem = "soundpipe.item"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob  = "job"
	ResourceItem = "item"
)

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AllActions returns every action this hook can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobFinished,
		ActionItemStarted,
		ActionItemSucceeded,
		ActionItemRetrying,
		ActionItemFailed,
	}
}
