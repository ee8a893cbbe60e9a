package orchestrator

import "time"

// Job lifecycle event types.
const (
	EventJobStarted   = "job.started"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// Event is published to the events topic on every job transition.
type Event struct {
	Type          string    `json:"type"`
	JobID         int64     `json:"job_id"`
	ProjectID     int64     `json:"project_id"`
	TaskID        string    `json:"task_id"`
	ArticlesFound int       `json:"articles_found,omitempty"`
	NewArticles   int       `json:"new_articles,omitempty"`
	Error         string    `json:"error,omitempty"`
	At            time.Time `json:"at"`
}

func newEvent(typ string, jobID, projectID int64, taskID string, at time.Time) Event {
	return Event{Type: typ, JobID: jobID, ProjectID: projectID, TaskID: taskID, At: at}
}

// Attributes exposes the event type for subscription filters.
func (e Event) Attributes() map[string]string {
	return map[string]string{"event_type": e.Type}
}
