// Package formatter turns an issue event into the bounded ticket payload sent downstream.
package formatter

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/issue-bridge/internal/domain"
)

const (
	MaxTitleRunes       = 255
	MaxDescriptionRunes = 16000
	ellipsis            = "…"
)

var digitRun = regexp.MustCompile(`[0-9]+`)

// Format builds the create payload. Only tags named in allowlist are carried through.
func Format(event *domain.IssueEvent, target domain.RoutingTarget, allowlist []string) domain.CreatePayload {
	return domain.CreatePayload{
		Title:          Truncate(title(event), MaxTitleRunes),
		Description:    Truncate(description(event), MaxDescriptionRunes),
		Priority:       priority(event, target),
		Type:           domain.TicketTypeBug,
		Tags:           allowedTags(event.Tags, allowlist),
		Permalink:      event.Permalink,
		SimilarityHash: SimilarityHash(event.ErrorType, event.ErrorMessage, event.Culprit),
	}
}

// PriorityForLevel maps a monitoring level to a ticket priority.
func PriorityForLevel(level string) domain.TicketPriority {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "fatal", "critical":
		return domain.TicketPriorityUrgent
	case "error":
		return domain.TicketPriorityHigh
	case "warning", "warn":
		return domain.TicketPriorityMedium
	default:
		return domain.TicketPriorityLow
	}
}

// SimilarityHash groups errors that differ only in numbers, case or surrounding whitespace.
// It is not unique and only feeds correlation.
func SimilarityHash(errorType, message, culprit string) string {
	normalized := strings.Join([]string{normalize(errorType), normalize(message), normalize(culprit)}, "\x1f")
	sum := blake2b.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// Truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}
	return string(runes[:limit-1]) + ellipsis
}

type redactedEvent struct {
	EventType   domain.EventType `json:"eventType"`
	IssueID     string           `json:"issueId"`
	Title       string           `json:"title"`
	Level       string           `json:"level,omitempty"`
	ProjectSlug string           `json:"projectSlug,omitempty"`
	Environment string           `json:"environment,omitempty"`
	Release     string           `json:"release,omitempty"`
	Permalink   string           `json:"permalink,omitempty"`
	Tags        []domain.Tag     `json:"tags,omitempty"`
}

// Redact produces the payload persisted with the raw event: display fields and allow-listed
// tags only.
func Redact(event *domain.IssueEvent, allowlist []string) json.RawMessage {
	body, err := json.Marshal(redactedEvent{
		EventType:   event.EventType,
		IssueID:     event.IssueID,
		Title:       Truncate(event.Title, MaxTitleRunes),
		Level:       event.Level,
		ProjectSlug: event.ProjectSlug,
		Environment: event.Environment,
		Release:     event.Release,
		Permalink:   event.Permalink,
		Tags:        allowedTags(event.Tags, allowlist),
	})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return body
}

// RegressionComment is appended to a ticket when its issue comes back.
func RegressionComment(release string) string {
	if release == "" {
		return "Issue regressed after being resolved."
	}
	return fmt.Sprintf("Issue regressed in release %s.", release)
}

func title(event *domain.IssueEvent) string {
	t := strings.TrimSpace(event.Title)
	if t != "" {
		return t
	}
	if event.ErrorType != "" {
		return strings.TrimSpace(fmt.Sprintf("%s: %s", event.ErrorType, event.ErrorMessage))
	}
	return fmt.Sprintf("Issue %s", event.IssueID)
}

func description(event *domain.IssueEvent) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "**%s:** %s\n", label, value)
		}
	}

	line("Level", event.Level)
	line("Project", event.ProjectSlug)
	line("Environment", event.Environment)
	line("Platform", event.Platform)
	line("Culprit", event.Culprit)
	line("Error type", event.ErrorType)
	line("Error message", event.ErrorMessage)
	line("File", event.Filename)
	line("Events", event.Count)
	if event.UserCount > 0 {
		line("Users affected", fmt.Sprintf("%d", event.UserCount))
	}
	if event.FirstSeen != nil {
		line("First seen", event.FirstSeen.UTC().Format(time.RFC3339))
	}
	if event.LastSeen != nil {
		line("Last seen", event.LastSeen.UTC().Format(time.RFC3339))
	}
	line("Release", event.Release)
	if event.Permalink != "" {
		fmt.Fprintf(&b, "\n[View issue](%s)\n", event.Permalink)
	}
	return strings.TrimRight(b.String(), "\n")
}

func priority(event *domain.IssueEvent, target domain.RoutingTarget) domain.TicketPriority {
	if target.Priority != nil && target.Priority.Valid() {
		return *target.Priority
	}
	return PriorityForLevel(event.Level)
}

func allowedTags(tags []domain.Tag, allowlist []string) []domain.Tag {
	if len(tags) == 0 || len(allowlist) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(allowlist))
	for _, key := range allowlist {
		allowed[key] = struct{}{}
	}
	out := make([]domain.Tag, 0, len(tags))
	for _, t := range tags {
		if _, ok := allowed[t.Key]; ok {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalize(s string) string {
	return digitRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "0")
}
