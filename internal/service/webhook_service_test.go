package service_test

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/ratelimit"
	"github.com/spec-kit/issue-bridge/internal/repository"
	"github.com/spec-kit/issue-bridge/internal/repository/memory"
	"github.com/spec-kit/issue-bridge/internal/service"
	"github.com/spec-kit/issue-bridge/internal/signature"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

type denyLimiter struct{ reason string }

func (d denyLimiter) Allow(context.Context, string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, Reason: d.reason}
}

func issueBody(eventID, action, issueID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"action":%q,"data":{"issue":{"id":%q,"title":"TypeError: x is undefined",
		"culprit":"app.js in render","level":"error","project":{"slug":"web"},"environment":"production",
		"metadata":{"type":"TypeError","value":"x is undefined"},"tags":[{"key":"browser","value":"Chrome"}],
		"count":"12","userCount":3,"release":"1.4.2"}}}`, eventID, action, issueID))
}

var _ = Describe("WebhookService", func() {
	var (
		ctx      context.Context
		store    *memory.Store
		q        *queue.Queue
		verifier *signature.Verifier
		now      time.Time
		deps     service.WebhookDependencies
		svc      *service.WebhookService
		cfg      *domain.BridgeConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		store = memory.NewStore()
		q = queue.New(store.Repos().Queue, queue.Options{MaxAttempts: 5, Now: clock})
		verifier = signature.NewVerifier("s3cret", 5*time.Minute).WithClock(clock)
		cfg = &domain.BridgeConfig{
			TenantID:        "t1",
			Enabled:         true,
			AllowlistedTags: []string{"browser"},
			DefaultRouting:  &domain.RoutingTarget{ProjectID: "web"},
		}
		deps = service.WebhookDependencies{
			Store:     store,
			Queue:     q,
			Verifier:  verifier,
			TriageTTL: time.Hour,
			Now:       clock,
		}
	})

	JustBeforeEach(func() {
		Expect(store.Repos().Configs.Upsert(ctx, cfg)).To(Succeed())
		svc = service.NewWebhookService(deps)
	})

	deliver := func(tenantID, resource string, body []byte) (service.WebhookResult, error) {
		ts := strconv.FormatInt(now.Unix(), 10)
		return svc.Receive(ctx, service.WebhookRequest{
			TenantID:  tenantID,
			Timestamp: ts,
			Signature: verifier.Sign(ts, body),
			Resource:  resource,
			Body:      body,
		})
	}

	pending := func() []domain.QueueItem {
		items, err := store.Repos().Queue.ListByStatus(ctx, "t1", domain.QueueStatusPending, 100)
		Expect(err).NotTo(HaveOccurred())
		return items
	}

	Describe("request validation", func() {
		It("rejects a bad signature", func() {
			body := issueBody("evt-1", "created", "ABC-1")
			_, err := svc.Receive(ctx, service.WebhookRequest{
				TenantID:  "t1",
				Timestamp: strconv.FormatInt(now.Unix(), 10),
				Signature: "deadbeef",
				Resource:  "issue",
				Body:      body,
			})
			Expect(apperrors.HasCode(err, apperrors.CodeUnauthorized)).To(BeTrue())
		})

		It("rejects a stale timestamp", func() {
			body := issueBody("evt-1", "created", "ABC-1")
			ts := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
			_, err := svc.Receive(ctx, service.WebhookRequest{
				TenantID: "t1", Timestamp: ts, Signature: verifier.Sign(ts, body), Resource: "issue", Body: body,
			})
			Expect(apperrors.HasCode(err, apperrors.CodeUnauthorized)).To(BeTrue())
		})

		It("requires a tenant", func() {
			_, err := deliver("", "issue", issueBody("evt-1", "created", "ABC-1"))
			Expect(apperrors.HasCode(err, apperrors.CodeValidation)).To(BeTrue())
		})

		It("rejects malformed JSON", func() {
			_, err := deliver("t1", "issue", []byte(`{"action":`))
			Expect(apperrors.HasCode(err, apperrors.CodeValidation)).To(BeTrue())
		})

		It("returns not found for an unconfigured tenant", func() {
			_, err := deliver("nobody", "issue", issueBody("evt-1", "created", "ABC-1"))
			Expect(apperrors.HasCode(err, apperrors.CodeNotFound)).To(BeTrue())
		})
	})

	Describe("skips", func() {
		Context("when the bridge is disabled", func() {
			BeforeEach(func() { cfg.Enabled = false })

			It("skips without touching the queue", func() {
				res, err := deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res).To(Equal(service.WebhookResult{Success: true, Action: "skipped", IssueID: "ABC-1", Reason: "bridge disabled"}))
				Expect(pending()).To(BeEmpty())
				Expect(store.RawEvents("t1")).To(BeEmpty())
			})
		})

		It("skips unsupported event types", func() {
			res, err := deliver("t1", "issue", issueBody("evt-1", "assigned", "ABC-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Reason).To(Equal("unsupported event type"))
		})

		Context("when the rate limiter denies", func() {
			BeforeEach(func() { deps.Limiter = denyLimiter{reason: "rate limit exceeded: 1 requests per 1m0s"} })

			It("surfaces the limiter reason", func() {
				res, err := deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Action).To(Equal("skipped"))
				Expect(res.Reason).To(Equal("rate limit exceeded: 1 requests per 1m0s"))
			})
		})

		Context("when the circuit breaker is tripped", func() {
			BeforeEach(func() {
				tripped := now.Add(-10 * time.Minute)
				cfg.CircuitBreakerTrippedAt = &tripped
				cfg.CircuitBreakerCooldownMinutes = 30
			})

			It("skips inside the cooldown and resumes after it", func() {
				res, err := deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Reason).To(Equal("circuit breaker active"))
				Expect(pending()).To(BeEmpty())

				now = now.Add(21 * time.Minute)
				res, err = deliver("t1", "issue", issueBody("evt-2", "created", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Action).To(Equal("queued"))
			})
		})

		Context("without a route", func() {
			BeforeEach(func() { cfg.DefaultRouting = nil })

			It("marks the raw event skipped", func() {
				res, err := deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Reason).To(Equal("no matching routing rule"))

				raw := store.RawEvents("t1")
				Expect(raw).To(HaveLen(1))
				Expect(raw[0].Status).To(Equal(domain.RawEventStatusSkipped))
				Expect(*raw[0].SkipReason).To(Equal("no matching routing rule"))
			})
		})
	})

	Describe("created events", func() {
		It("queues a formatted create payload", func() {
			res, err := deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(service.WebhookResult{Success: true, Action: "queued", IssueID: "ABC-1"}))

			items := pending()
			Expect(items).To(HaveLen(1))
			Expect(items[0].TargetProjectID).To(Equal("web"))
			Expect(items[0].Payload.Action).To(Equal(domain.ActionCreate))
			Expect(items[0].Payload.Create.Priority).To(Equal(domain.TicketPriorityHigh))
			Expect(items[0].Payload.Create.Tags).To(ConsistOf(domain.Tag{Key: "browser", Value: "Chrome"}))

			raw := store.RawEvents("t1")
			Expect(raw).To(HaveLen(1))
			Expect(raw[0].Status).To(Equal(domain.RawEventStatusProcessed))
		})

		It("routes with the first matching rule", func() {
			_, err := store.Repos().Rules.ReplaceForTenant(ctx, "t1", []domain.RoutingRule{{
				Name: "prod", Priority: 1, Enabled: true,
				Match:  domain.RuleMatch{Environments: []string{"production"}},
				Target: domain.RoutingTarget{ProjectID: "oncall"},
			}})
			Expect(err).NotTo(HaveOccurred())

			_, err = deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(pending()[0].TargetProjectID).To(Equal("oncall"))
		})

		It("skips a re-delivered event id", func() {
			body := issueBody("evt-1", "created", "ABC-1")
			_, err := deliver("t1", "issue", body)
			Expect(err).NotTo(HaveOccurred())

			res, err := deliver("t1", "issue", body)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Reason).To(Equal("duplicate event"))
			Expect(pending()).To(HaveLen(1))
			Expect(store.RawEvents("t1")).To(HaveLen(1))
		})

		It("derives a stable id when the delivery has none", func() {
			body := []byte(`{"action":"created","data":{"issue":{"id":42,"title":"boom","level":"error"}}}`)
			_, err := deliver("t1", "issue", body)
			Expect(err).NotTo(HaveOccurred())
			res, err := deliver("t1", "issue", body)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Reason).To(Equal("duplicate event"))
		})

		It("reports duplicate_creation once a ticket is mapped", func() {
			_, err := store.Repos().Mappings.Upsert(ctx, &domain.IssueTicketMapping{
				TenantID: "t1", IssueID: "ABC-1", TicketID: "web#1", SyncStatus: domain.SyncStatusSynced,
			})
			Expect(err).NotTo(HaveOccurred())

			res, err := deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Action).To(Equal("duplicate_creation"))
			Expect(pending()).To(BeEmpty())
		})

		It("queues one create for concurrent deliveries of the same issue", func() {
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				actions []string
			)
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := deliver("t1", "issue", issueBody("evt-"+strconv.Itoa(i), "created", "ABC-1"))
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					actions = append(actions, res.Action)
					mu.Unlock()
				}(i)
			}
			wg.Wait()

			Expect(actions).To(ConsistOf("queued", "duplicate_creation", "duplicate_creation", "duplicate_creation", "duplicate_creation"))
			Expect(pending()).To(HaveLen(1))
		})

		Context("in triage mode", func() {
			BeforeEach(func() { cfg.TriageModeEnabled = true })

			It("holds the payload for approval and refuses a second pending item", func() {
				res, err := deliver("t1", "issue", issueBody("evt-1", "created", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Action).To(Equal("triage_queued"))
				Expect(pending()).To(BeEmpty())

				items, err := store.Repos().Triage.List(ctx, repository.TriageFilter{TenantID: "t1"})
				Expect(err).NotTo(HaveOccurred())
				Expect(items).To(HaveLen(1))
				Expect(items[0].Routing.ProjectID).To(Equal("web"))
				Expect(items[0].ExpiresAt).To(Equal(now.Add(time.Hour)))

				res, err = deliver("t1", "issue", issueBody("evt-2", "created", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Reason).To(Equal("triage already pending"))
			})
		})
	})

	Describe("lifecycle events", func() {
		It("skips a resolved issue with no ticket mapping", func() {
			res, err := deliver("t1", "issue", issueBody("evt-1", "resolved", "ABC-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(service.WebhookResult{Success: true, Action: "skipped", IssueID: "ABC-1", Reason: "no ticket mapping"}))
			Expect(pending()).To(BeEmpty())

			raw := store.RawEvents("t1")
			Expect(raw).To(HaveLen(1))
			Expect(raw[0].Status).To(Equal(domain.RawEventStatusSkipped))
		})

		Context("with a mapped ticket", func() {
			JustBeforeEach(func() {
				_, err := store.Repos().Mappings.Upsert(ctx, &domain.IssueTicketMapping{
					TenantID: "t1", IssueID: "ABC-1", TicketID: "web#7", SyncStatus: domain.SyncStatusSynced,
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("queues a resolve transition and records the sync status", func() {
				res, err := deliver("t1", "issue", issueBody("evt-1", "resolved", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Action).To(Equal("updated_resolved"))

				items := pending()
				Expect(items).To(HaveLen(1))
				Expect(items[0].Payload.Transition.TicketID).To(Equal("web#7"))
				Expect(items[0].Payload.Transition.Status).To(Equal(domain.TicketStatusResolved))
				Expect(store.Mappings("t1")[0].SyncStatus).To(Equal(domain.SyncStatusResolved))
			})

			It("escalates a regression to the highest priority", func() {
				res, err := deliver("t1", "issue", issueBody("evt-1", "regression", "ABC-1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Action).To(Equal("updated_regression"))

				t := pending()[0].Payload.Transition
				Expect(t.Status).To(Equal(domain.TicketStatusReopened))
				Expect(*t.Priority).To(Equal(domain.TicketPriorityUrgent))
				Expect(t.Comment).To(ContainSubstring("1.4.2"))
				Expect(store.Mappings("t1")[0].SyncStatus).To(Equal(domain.SyncStatusRegression))
			})
		})
	})
})
