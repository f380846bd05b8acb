package queue_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/repository"
	"github.com/spec-kit/issue-bridge/internal/repository/memory"
)

func createPayload() domain.WorkPayload {
	return domain.WorkPayload{
		Action: domain.ActionCreate,
		Create: &domain.CreatePayload{Title: "boom", Priority: domain.TicketPriorityHigh, Type: domain.TicketTypeBug},
	}
}

var _ = Describe("RetryPolicy", func() {
	policy := queue.NewRetryPolicy(30*time.Second, 10*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	It("doubles the delay per attempt up to the cap", func() {
		Expect(policy.Delay(0)).To(Equal(30 * time.Second))
		Expect(policy.Delay(1)).To(Equal(time.Minute))
		Expect(policy.Delay(2)).To(Equal(2 * time.Minute))
		Expect(policy.Delay(5)).To(Equal(10 * time.Minute))
		Expect(policy.Delay(10000)).To(Equal(10 * time.Minute))
	})

	It("is monotonic until dead-lettering", func() {
		const maxAttempts = 8
		attempts := 0
		last := now
		for attempts < maxAttempts-1 {
			next := policy.Next(attempts, maxAttempts, false, now)
			Expect(next.Status).To(Equal(domain.QueueStatusPending))
			Expect(next.AttemptCount).To(Equal(attempts + 1))
			Expect(next.NextAttemptAt).To(BeTemporally(">=", last))
			last = next.NextAttemptAt
			attempts = next.AttemptCount
		}
		final := policy.Next(attempts, maxAttempts, false, now)
		Expect(final.Status).To(Equal(domain.QueueStatusDeadLettered))
		Expect(final.AttemptCount).To(Equal(maxAttempts))
	})

	It("dead-letters immediately when forced", func() {
		Expect(policy.Next(0, 5, true, now).Status).To(Equal(domain.QueueStatusDeadLettered))
	})
})

var _ = Describe("Queue", func() {
	var (
		ctx   context.Context
		store *memory.Store
		q     *queue.Queue
		now   time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = memory.NewStore()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		q = queue.New(store.Repos().Queue, queue.Options{
			MaxAttempts: 5,
			Retry:       queue.NewRetryPolicy(time.Second, time.Minute),
			Now:         func() time.Time { return now },
		})
	})

	enqueue := func() *domain.QueueItem {
		item, err := q.Enqueue(ctx, domain.NewQueueItem{
			TenantID:        "t1",
			IssueID:         "ABC-1",
			EventType:       domain.EventIssueCreated,
			TargetProjectID: "web",
			Payload:         createPayload(),
		})
		Expect(err).NotTo(HaveOccurred())
		return item
	}

	claimOne := func() domain.QueueItem {
		items, err := q.Claim(ctx, 10, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(HaveLen(1))
		return items[0]
	}

	It("rejects payloads whose variant does not match the action", func() {
		_, err := q.Enqueue(ctx, domain.NewQueueItem{
			TenantID:        "t1",
			IssueID:         "ABC-1",
			TargetProjectID: "web",
			Payload:         domain.WorkPayload{Action: domain.ActionResolve, Create: createPayload().Create},
		})
		Expect(errors.Is(err, domain.ErrInvalidPayload)).To(BeTrue())
	})

	It("completes a claimed item", func() {
		enqueue()
		item := claimOne()
		Expect(item.Status).To(Equal(domain.QueueStatusProcessing))
		Expect(q.Complete(ctx, &item, "web#12")).To(Succeed())

		stored, err := store.Repos().Queue.Get(ctx, item.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(domain.QueueStatusCompleted))
		Expect(*stored.ResultRef).To(Equal("web#12"))
	})

	It("dead-letters on the fifth failure with max_attempts=5", func() {
		enqueue()
		for attempt := 1; attempt <= 5; attempt++ {
			item := claimOne()
			failure, err := q.Fail(ctx, &item, errors.New("tracker returned 502"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(failure.AttemptCount).To(Equal(attempt))

			if attempt < 5 {
				Expect(failure.Status).To(Equal(domain.QueueStatusPending))
				now = failure.NextAttemptAt
			} else {
				Expect(failure.Status).To(Equal(domain.QueueStatusDeadLettered))
			}
		}

		now = now.Add(24 * time.Hour)
		items, err := q.Claim(ctx, 10, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(BeEmpty())

		dead, err := q.ListDeadLettered(ctx, "t1", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
		Expect(dead[0].AttemptCount).To(Equal(5))
		Expect(*dead[0].LastError).To(Equal("tracker returned 502"))
	})

	It("holds a failed item back until its backoff elapses", func() {
		enqueue()
		item := claimOne()
		failure, err := q.Fail(ctx, &item, errors.New("timeout"), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(failure.NextAttemptAt).To(Equal(now.Add(2 * time.Second)))

		items, err := q.Claim(ctx, 10, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(items).To(BeEmpty())

		now = failure.NextAttemptAt
		Expect(claimOne().AttemptCount).To(Equal(1))
	})

	It("reports a lost lease after another worker reclaims the item", func() {
		enqueue()
		stale := claimOne()

		now = now.Add(2 * time.Minute)
		fresh := claimOne()
		Expect(*fresh.LockedBy).NotTo(Equal(*stale.LockedBy))

		Expect(q.Complete(ctx, &stale, "web#1")).To(MatchError(queue.ErrLeaseLost))
		_, err := q.Fail(ctx, &stale, errors.New("late"), false)
		Expect(err).To(MatchError(queue.ErrLeaseLost))
		Expect(q.Complete(ctx, &fresh, "web#1")).To(Succeed())
	})

	It("requeues dead-lettered items with a fresh budget", func() {
		enqueue()
		item := claimOne()
		_, err := q.Fail(ctx, &item, errors.New("bad"), true)
		Expect(err).NotTo(HaveOccurred())

		Expect(q.Requeue(ctx, item.ID)).To(Succeed())
		requeued := claimOne()
		Expect(requeued.AttemptCount).To(BeZero())

		stats, err := q.Stats(ctx, "t1")
		Expect(err).NotTo(HaveOccurred())
		Expect(stats[domain.QueueStatusProcessing]).To(Equal(int64(1)))
	})

	It("allows one live create per issue", func() {
		enqueue()
		_, err := q.Enqueue(ctx, domain.NewQueueItem{
			TenantID:        "t1",
			IssueID:         "ABC-1",
			EventType:       domain.EventIssueCreated,
			TargetProjectID: "web",
			Payload:         createPayload(),
		})
		Expect(errors.Is(err, repository.ErrDuplicate)).To(BeTrue())

		item := claimOne()
		_, err = q.Enqueue(ctx, domain.NewQueueItem{
			TenantID: "t1", IssueID: "ABC-1", TargetProjectID: "web", Payload: createPayload(),
		})
		Expect(errors.Is(err, repository.ErrDuplicate)).To(BeTrue())

		Expect(q.Complete(ctx, &item, "web#1")).To(Succeed())
		enqueue()
	})

	It("refuses to requeue a create while another create for the issue is live", func() {
		enqueue()
		item := claimOne()
		_, err := q.Fail(ctx, &item, errors.New("bad"), true)
		Expect(err).NotTo(HaveOccurred())
		enqueue()

		Expect(errors.Is(q.Requeue(ctx, item.ID), repository.ErrDuplicate)).To(BeTrue())
		dead, err := q.ListDeadLettered(ctx, "t1", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(dead).To(HaveLen(1))
	})
})
