package ticketclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/domain"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

// GitLab files tickets as GitLab issues. Ticket ids have the form "<project>#<iid>".
type GitLab struct {
	client *gitlab.Client
	logger *zap.Logger
}

// NewGitLab builds a client against baseURL (the instance root, not the API path).
func NewGitLab(baseURL, token string, timeout time.Duration, logger *zap.Logger) (*GitLab, error) {
	// Retries belong to the work queue.
	opts := []gitlab.ClientOptionFunc{
		gitlab.WithHTTPClient(&http.Client{Timeout: timeout}),
		gitlab.WithoutRetries(),
	}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	}
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &GitLab{client: client, logger: logger}, nil
}

func (g *GitLab) Create(ctx context.Context, payload domain.CreatePayload, projectID string, ownerID *string) (domain.Ticket, error) {
	description := payload.Description
	if ownerID != nil && *ownerID != "" {
		description = fmt.Sprintf("%s\n\n/assign @%s", description, strings.TrimPrefix(*ownerID, "@"))
	}
	labels := gitlab.LabelOptions(Labels(payload))

	issue, _, err := g.client.Issues.CreateIssue(projectID, &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(payload.Title),
		Description: gitlab.Ptr(description),
		Labels:      &labels,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return domain.Ticket{}, apperrors.NewDownstreamError("create", err)
	}

	ticket := domain.Ticket{
		ID:  FormatTicketID(projectID, int64(issue.IID)),
		URL: issue.WebURL,
	}
	g.logger.Info("gitlab issue created", zap.String("ticket_id", ticket.ID))
	return ticket, nil
}

func (g *GitLab) Update(ctx context.Context, ticketID string, patch domain.TicketPatch) error {
	projectID, iid, err := ParseTicketID(ticketID)
	if err != nil {
		return err
	}

	opts := &gitlab.UpdateIssueOptions{}
	changed := false
	if patch.Status != nil {
		switch *patch.Status {
		case domain.TicketStatusResolved:
			opts.StateEvent = gitlab.Ptr("close")
		case domain.TicketStatusReopened:
			opts.StateEvent = gitlab.Ptr("reopen")
		}
		changed = true
	}
	if patch.Priority != nil {
		labels := gitlab.LabelOptions{priorityLabel(*patch.Priority)}
		opts.AddLabels = &labels
		changed = true
	}

	if changed {
		if _, _, err := g.client.Issues.UpdateIssue(projectID, int(iid), opts, gitlab.WithContext(ctx)); err != nil {
			return apperrors.NewDownstreamError("update", err)
		}
	}
	if patch.Comment != "" {
		if _, _, err := g.client.Notes.CreateIssueNote(projectID, int(iid), &gitlab.CreateIssueNoteOptions{
			Body: gitlab.Ptr(patch.Comment),
		}, gitlab.WithContext(ctx)); err != nil {
			return apperrors.NewDownstreamError("comment", err)
		}
	}
	return nil
}

// Labels renders priority, type and tags as scoped labels.
func Labels(payload domain.CreatePayload) []string {
	labels := []string{priorityLabel(payload.Priority)}
	if payload.Type != "" {
		labels = append(labels, "type::"+string(payload.Type))
	}
	for _, tag := range payload.Tags {
		labels = append(labels, fmt.Sprintf("tag::%s=%s", tag.Key, tag.Value))
	}
	return labels
}

func priorityLabel(p domain.TicketPriority) string {
	return "priority::" + strings.ToLower(string(p))
}

// FormatTicketID joins a project reference and an issue iid.
func FormatTicketID(projectID string, iid int64) string {
	return fmt.Sprintf("%s#%d", projectID, iid)
}

// ParseTicketID splits an id produced by FormatTicketID.
func ParseTicketID(ticketID string) (string, int64, error) {
	idx := strings.LastIndex(ticketID, "#")
	if idx <= 0 || idx == len(ticketID)-1 {
		return "", 0, fmt.Errorf("malformed ticket id %q", ticketID)
	}
	iid, err := strconv.ParseInt(ticketID[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed ticket id %q: %w", ticketID, err)
	}
	return ticketID[:idx], iid, nil
}
