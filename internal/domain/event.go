package domain

import (
	"fmt"
	"time"
)

// Action is the internal meaning of an inbound lifecycle event.
type Action string

const (
	ActionCreate     Action = "create"
	ActionResolve    Action = "resolve"
	ActionUnresolve  Action = "unresolve"
	ActionRegression Action = "regression"
)

// EventType is the wire identifier: hook resource + "." + action.
type EventType string

const (
	EventIssueCreated    EventType = "issue.created"
	EventIssueResolved   EventType = "issue.resolved"
	EventIssueUnresolved EventType = "issue.unresolved"
	EventIssueRegression EventType = "issue.regression"
)

// actionsByEventType is the only place wire types become actions.
var actionsByEventType = map[EventType]Action{
	EventIssueCreated:    ActionCreate,
	EventIssueResolved:   ActionResolve,
	EventIssueUnresolved: ActionUnresolve,
	EventIssueRegression: ActionRegression,
}

// ActionForEventType resolves a wire event type.
func ActionForEventType(t EventType) (Action, bool) {
	a, ok := actionsByEventType[t]
	return a, ok
}

// NewEventType joins the hook resource header and the body action.
func NewEventType(resource, action string) EventType {
	return EventType(fmt.Sprintf("%s.%s", resource, action))
}

// IsLifecycle reports whether the action updates an existing ticket.
func (a Action) IsLifecycle() bool {
	switch a {
	case ActionResolve, ActionUnresolve, ActionRegression:
		return true
	}
	return false
}

// SyncStatus returns the mapping status an applied lifecycle action leaves behind.
func (a Action) SyncStatus() SyncStatus {
	switch a {
	case ActionResolve:
		return SyncStatusResolved
	case ActionRegression:
		return SyncStatusRegression
	default:
		return SyncStatusSynced
	}
}

// TicketStatus returns the tracker state the action requests.
func (a Action) TicketStatus() (TicketStatus, bool) {
	switch a {
	case ActionResolve:
		return TicketStatusResolved, true
	case ActionUnresolve, ActionRegression:
		return TicketStatusReopened, true
	}
	return "", false
}

// ResponseAction is the name reported back to the sender for an applied lifecycle update.
func (a Action) ResponseAction() string {
	switch a {
	case ActionResolve:
		return "updated_resolved"
	case ActionUnresolve:
		return "updated_unresolved"
	case ActionRegression:
		return "updated_regression"
	}
	return "queued"
}

// Tag is a key/value pair attached to an issue.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// IssueEvent is the normalized descriptor routing and formatting work from.
type IssueEvent struct {
	SourceEventID string
	EventType     EventType
	Action        Action
	IssueID       string
	Title         string
	Culprit       string
	Level         string
	ProjectSlug   string
	Environment   string
	Platform      string
	ErrorType     string
	ErrorMessage  string
	Filename      string
	Permalink     string
	Release       string
	Count         string
	UserCount     int
	FirstSeen     *time.Time
	LastSeen      *time.Time
	Tags          []Tag
}

// TagValue returns the first value recorded for key.
func (e *IssueEvent) TagValue(key string) (string, bool) {
	for _, t := range e.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}
