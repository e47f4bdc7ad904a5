// Package notifications fans an incident or job event out to whatever
// external sinks a tenant has configured. Each sink is a small
// webhook/SMTP client with its own Config struct, a ShouldNotify filter,
// and a Send method. The event payload is the JobNotify job's JSON body
// produced by internal/incident, and the fan-out runs as a handler
// registered on a jobs.Runner rather than from an in-process event bus,
// since the control plane has no long-lived process watching for events
// directly — everything crosses the job table.
package notifications

import (
	"encoding/json"
	"fmt"
)

// Event is the decoded payload of a JobNotify job.
type Event struct {
	Channel     string `json:"channel"`
	IncidentID  string `json:"incidentId,omitempty"`
	RunID       string `json:"runId,omitempty"`
	Type        string `json:"type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParseEvent decodes a JobNotify payload.
func ParseEvent(payloadJSON string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payloadJSON), &e); err != nil {
		return Event{}, fmt.Errorf("notifications: decode payload: %w", err)
	}
	return e, nil
}

// Sink delivers an Event to one external destination.
type Sink interface {
	Name() string
	ShouldNotify(e Event) bool
	Send(e Event) error
}

var severityRank = map[string]int{
	"low":      0,
	"medium":   1,
	"high":     2,
	"critical": 3,
}

func meetsFloor(severity string, floor int) bool {
	if floor == 0 {
		return true
	}
	return severityRank[severity] >= floor
}

// Router fans an Event out to every registered sink, collecting
// individual failures rather than aborting on the first one — one
// misconfigured webhook should not block the others.
type Router struct {
	sinks []Sink
}

// NewRouter constructs a Router over the given sinks.
func NewRouter(sinks ...Sink) *Router {
	return &Router{sinks: sinks}
}

// Dispatch sends e to every sink that wants it, returning a combined
// error naming every sink that failed.
func (r *Router) Dispatch(e Event) error {
	var failed []string
	for _, s := range r.sinks {
		if !s.ShouldNotify(e) {
			continue
		}
		if err := s.Send(e); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("notifications: %d sink(s) failed: %v", len(failed), failed)
	}
	return nil
}
