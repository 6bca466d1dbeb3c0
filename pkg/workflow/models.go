package workflow

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is the durable checkpoint of one workflow execution. CompletedSteps
// counts the leading steps that finished; State is the accumulated result
// persisted after each of them.
type Run struct {
	ID             string         `json:"id" gorm:"primaryKey;column:id"`
	Workflow       string         `json:"workflow" gorm:"column:workflow;index"`
	Status         string         `json:"status" gorm:"column:status;index"`
	Stage          string         `json:"stage" gorm:"column:stage"`
	CompletedSteps int            `json:"completed_steps" gorm:"column:completed_steps"`
	Input          datatypes.JSON `json:"input" gorm:"column:input"`
	State          datatypes.JSON `json:"state,omitempty" gorm:"column:state"`
	Error          string         `json:"error,omitempty" gorm:"column:error"`
	RetryCount     int            `json:"retry_count" gorm:"column:retry_count"`
	LastAttempt    *time.Time     `json:"last_attempt,omitempty" gorm:"column:last_attempt"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Run) TableName() string {
	return "workflow_runs"
}
