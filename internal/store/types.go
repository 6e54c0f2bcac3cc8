package store

import "time"

// Transaction status values.
const (
	StatusRunning    = "running"
	StatusCommitted  = "committed"
	StatusRolledBack = "rolled_back"
	StatusFailed     = "failed"
)

// Env is a registered environment.
type Env struct {
	Prefix    string    `json:"prefix"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Action is one link or unlink recorded against a transaction.
type Action struct {
	Action string `json:"action"` // "link" or "unlink"
	Dist   string `json:"dist"`
}

// TxRecord is a journaled transaction.
type TxRecord struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	Command    string     `json:"command"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Actions    []Action   `json:"actions"`
}
