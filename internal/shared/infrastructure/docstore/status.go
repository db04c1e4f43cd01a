package docstore

// State is the health state of the storage facade.
type State string

const (
	StateInitializing State = "initializing"
	StateCompleted    State = "completed"
	StateDegraded     State = "degraded"
	StateFailed       State = "failed"
)

// Status is a best-effort snapshot of the facade's backend health.
type Status struct {
	DBType    string  `json:"dbType"`
	State     State   `json:"state"`
	Connected bool    `json:"connected"`
	Error     *string `json:"error"`
}

// Initialized reports whether the configured backend is serving normally.
func (s Status) Initialized() bool {
	return s.State == StateCompleted
}

// ErrorString returns the retained error, or "" when there is none.
func (s Status) ErrorString() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}
