// Package plangen runs plan generation as a Temporal workflow: one activity
// per attempt, with durable backoff between non-terminal failures.
package plangen

const (
	WorkflowName    = "generate_plan"
	ActivityAttempt = "plan_generation_attempt"

	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type Input struct {
	JobID  string `json:"job_id,omitempty"`
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
	// MaxRounds bounds how many attempts the workflow starts. Zero means DefaultMaxRounds.
	MaxRounds int `json:"max_rounds,omitempty"`
}

type AttemptResult struct {
	Status            string `json:"status"`
	AttemptID         string `json:"attempt_id,omitempty"`
	AttemptNumber     int    `json:"attempt_number,omitempty"`
	Classification    string `json:"classification,omitempty"`
	Rejected          bool   `json:"rejected,omitempty"`
	Retryable         bool   `json:"retryable,omitempty"`
	Terminal          bool   `json:"terminal,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	// PlanStatus is the plan's generation status after the round, when known.
	PlanStatus        string `json:"plan_status,omitempty"`
}
