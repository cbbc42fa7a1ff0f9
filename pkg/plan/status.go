package plan

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunStopped   = "run_stopped"
	EventRunFailed    = "run_failed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepStopped   = "step_stopped"
	EventStepFailed    = "step_failed"

	EventIntervalPass    = "interval_pass"
	EventIntervalDrained = "interval_drained"
)

// RunStatus represents the lifecycle state of a plan execution.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// StepStatus represents the lifecycle state of one step instance.
// Stopped is a normal cooperative-termination outcome, not a failure.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusStopped   StepStatus = "stopped"
	StepStatusFailed    StepStatus = "failed"
)
