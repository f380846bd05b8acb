package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/repository/memory"
	"github.com/spec-kit/issue-bridge/internal/service"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

var _ = Describe("TriageService", func() {
	var (
		ctx   context.Context
		store *memory.Store
		svc   *service.TriageService
		now   time.Time
		item  *domain.TriageItem
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		store = memory.NewStore()
		q := queue.New(store.Repos().Queue, queue.Options{Now: clock})
		svc = service.NewTriageService(service.TriageDependencies{Store: store, Queue: q, Now: clock})

		owner := "alice"
		item = &domain.TriageItem{
			TenantID:  "t1",
			IssueID:   "ABC-1",
			EventType: domain.EventIssueCreated,
			Payload:   domain.CreatePayload{Title: "boom", Priority: domain.TicketPriorityMedium, Type: domain.TicketTypeBug},
			Routing:   domain.RoutingTarget{ProjectID: "web", OwnerID: &owner},
			ExpiresAt: now.Add(time.Hour),
		}
		Expect(store.Repos().Triage.Create(ctx, item)).To(Succeed())
	})

	It("enqueues the stored payload on approval", func() {
		approved, err := svc.Approve(ctx, item.ID, "ops@example.com")
		Expect(err).NotTo(HaveOccurred())
		Expect(approved.Status).To(Equal(domain.TriageStatusApproved))
		Expect(approved.QueueItemID).NotTo(BeNil())

		queued, err := store.Repos().Queue.Get(ctx, *approved.QueueItemID)
		Expect(err).NotTo(HaveOccurred())
		Expect(queued.TargetProjectID).To(Equal("web"))
		Expect(*queued.TargetOwnerID).To(Equal("alice"))
		Expect(queued.Payload.Create.Title).To(Equal("boom"))
	})

	It("refuses to decide twice", func() {
		_, err := svc.Reject(ctx, item.ID, "ops@example.com", "noise")
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Approve(ctx, item.ID, "ops@example.com")
		Expect(apperrors.HasCode(err, apperrors.CodeConflict)).To(BeTrue())

		stats, err := store.Repos().Queue.Stats(ctx, "t1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stats[domain.QueueStatusPending]).To(BeZero())
	})

	It("leaves the item pending when a create for the issue is already queued", func() {
		q := queue.New(store.Repos().Queue, queue.Options{})
		_, err := q.Enqueue(ctx, domain.NewQueueItem{
			TenantID:        "t1",
			IssueID:         "ABC-1",
			EventType:       domain.EventIssueCreated,
			TargetProjectID: "web",
			Payload:         domain.WorkPayload{Action: domain.ActionCreate, Create: &item.Payload},
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Approve(ctx, item.ID, "ops@example.com")
		Expect(apperrors.HasCode(err, apperrors.CodeConflict)).To(BeTrue())

		stored, err := store.Repos().Triage.Get(ctx, item.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(domain.TriageStatusPending))
	})

	It("returns not found for an unknown item", func() {
		_, err := svc.Approve(ctx, "missing", "ops@example.com")
		Expect(apperrors.HasCode(err, apperrors.CodeNotFound)).To(BeTrue())
	})

	It("expires stale items", func() {
		now = now.Add(2 * time.Hour)
		n, err := svc.ExpireStale(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		items, err := svc.List(ctx, service.TriageListInput{TenantID: "t1", Status: "expired"})
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
	})

	It("validates the status filter", func() {
		_, err := svc.List(ctx, service.TriageListInput{TenantID: "t1", Status: "bogus"})
		Expect(apperrors.HasCode(err, apperrors.CodeValidation)).To(BeTrue())
	})
})
