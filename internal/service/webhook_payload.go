package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/spec-kit/issue-bridge/internal/domain"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type webhookBody struct {
	ID     flexString `json:"id"`
	Action string     `json:"action"`
	Data   struct {
		Issue wireIssue `json:"issue"`
	} `json:"data"`
}

type wireIssue struct {
	ID      flexString `json:"id"`
	Title   string     `json:"title"`
	Culprit string     `json:"culprit"`
	Level   string     `json:"level"`
	Project struct {
		Slug string `json:"slug"`
	} `json:"project"`
	Environment string `json:"environment"`
	Platform    string `json:"platform"`
	Metadata    struct {
		Type     string `json:"type"`
		Value    string `json:"value"`
		Filename string `json:"filename"`
	} `json:"metadata"`
	Tags      []domain.Tag `json:"tags"`
	Permalink string       `json:"permalink"`
	Count     flexString   `json:"count"`
	UserCount int          `json:"userCount"`
	FirstSeen *time.Time   `json:"firstSeen"`
	LastSeen  *time.Time   `json:"lastSeen"`
	Release   string       `json:"release"`
}

// ParseIssueEvent decodes a delivery. The event type comes from the hook resource header
// joined with the body action; Action is empty when the type is not supported.
func ParseIssueEvent(resource string, body []byte) (*domain.IssueEvent, error) {
	var wire webhookBody
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, apperrors.NewValidationError("malformed JSON body", map[string]any{"error": err.Error()})
	}

	resource = strings.TrimSpace(resource)
	if resource == "" {
		resource = "issue"
	}
	issue := wire.Data.Issue
	issueID := strings.TrimSpace(string(issue.ID))
	if issueID == "" {
		return nil, apperrors.NewValidationError("data.issue.id is required", nil)
	}

	eventType := domain.NewEventType(resource, strings.TrimSpace(wire.Action))
	action, _ := domain.ActionForEventType(eventType)

	sourceID := strings.TrimSpace(string(wire.ID))
	if sourceID == "" {
		sourceID = derivedSourceID(resource, wire.Action, issueID, body)
	}

	return &domain.IssueEvent{
		SourceEventID: sourceID,
		EventType:     eventType,
		Action:        action,
		IssueID:       issueID,
		Title:         issue.Title,
		Culprit:       issue.Culprit,
		Level:         issue.Level,
		ProjectSlug:   issue.Project.Slug,
		Environment:   issue.Environment,
		Platform:      issue.Platform,
		ErrorType:     issue.Metadata.Type,
		ErrorMessage:  issue.Metadata.Value,
		Filename:      issue.Metadata.Filename,
		Permalink:     issue.Permalink,
		Release:       issue.Release,
		Count:         string(issue.Count),
		UserCount:     issue.UserCount,
		FirstSeen:     issue.FirstSeen,
		LastSeen:      issue.LastSeen,
		Tags:          issue.Tags,
	}, nil
}

// Identical re-deliveries without an id hash to the same value.
func derivedSourceID(resource, action, issueID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(resource))
	h.Write([]byte{'|'})
	h.Write([]byte(action))
	h.Write([]byte{'|'})
	h.Write([]byte(issueID))
	h.Write([]byte{'|'})
	h.Write(body)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
