package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/repository"
)

// These specs need a disposable database with migrations/001_bridge.sql applied.
var _ = Describe("Postgres repositories", Ordered, func() {
	var (
		ctx    context.Context
		pool   *pgxpool.Pool
		store  repository.Store
		tenant string
	)

	BeforeAll(func() {
		dsn := os.Getenv("BRIDGE_TEST_POSTGRES_DSN")
		if dsn == "" {
			Skip("BRIDGE_TEST_POSTGRES_DSN not set")
		}
		ctx = context.Background()

		var err error
		pool, err = pgxpool.New(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(pool.Close)

		schema, err := os.ReadFile("../../migrations/001_bridge.sql")
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, string(schema))
		Expect(err).NotTo(HaveOccurred())

		store = repository.NewPostgresStore(pool)
	})

	BeforeEach(func() {
		tenant = "test-" + uuid.NewString()
		Expect(store.Repos().Configs.Upsert(ctx, &domain.BridgeConfig{TenantID: tenant, Enabled: true})).To(Succeed())
	})

	It("partitions due items across concurrent claimers", func() {
		repos := store.Repos()
		now := time.Now().UTC()
		const items, claimers, batch = 40, 6, 20

		for i := 0; i < items; i++ {
			item := &domain.QueueItem{
				TenantID:        tenant,
				IssueID:         fmt.Sprintf("ISSUE-%d", i),
				EventType:       domain.EventIssueCreated,
				TargetProjectID: "proj",
				Payload: domain.WorkPayload{
					Action: domain.ActionCreate,
					Create: &domain.CreatePayload{Title: "t", Priority: domain.TicketPriorityLow, Type: domain.TicketTypeBug},
				},
				Status:        domain.QueueStatusPending,
				MaxAttempts:   5,
				NextAttemptAt: now.Add(-time.Second),
			}
			Expect(repos.Queue.Insert(ctx, item)).To(Succeed())
		}

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = map[string]int{}
		)
		for c := 0; c < claimers; c++ {
			wg.Add(1)
			go func(worker string) {
				defer GinkgoRecover()
				defer wg.Done()
				claimed, err := repos.Queue.Claim(ctx, batch, worker, now, time.Minute)
				Expect(err).NotTo(HaveOccurred())
				mu.Lock()
				defer mu.Unlock()
				for _, item := range claimed {
					if item.TenantID == tenant {
						seen[item.ID]++
					}
				}
			}(uuid.NewString())
		}
		wg.Wait()

		Expect(seen).To(HaveLen(items))
		for id, count := range seen {
			Expect(count).To(Equal(1), "item %s claimed %d times", id, count)
		}
	})

	It("detects duplicate deliveries through the unique constraint", func() {
		repos := store.Repos()
		event := &domain.RawWebhookEvent{TenantID: tenant, SourceEventID: "evt-1", EventType: domain.EventIssueCreated, IssueID: "ABC-1", Payload: []byte(`{}`)}
		Expect(repos.RawEvents.Insert(ctx, event)).To(Succeed())

		again := &domain.RawWebhookEvent{TenantID: tenant, SourceEventID: "evt-1", EventType: domain.EventIssueCreated, IssueID: "ABC-1", Payload: []byte(`{}`)}
		Expect(repos.RawEvents.Insert(ctx, again)).To(MatchError(repository.ErrDuplicate))
	})

	It("refuses a second live create for an issue without aborting the transaction", func() {
		live := func() *domain.QueueItem {
			return &domain.QueueItem{
				TenantID:        tenant,
				IssueID:         "ABC-1",
				EventType:       domain.EventIssueCreated,
				TargetProjectID: "proj",
				Payload: domain.WorkPayload{
					Action: domain.ActionCreate,
					Create: &domain.CreatePayload{Title: "t", Priority: domain.TicketPriorityLow, Type: domain.TicketTypeBug},
				},
				Status:        domain.QueueStatusPending,
				MaxAttempts:   5,
				NextAttemptAt: time.Now().UTC(),
			}
		}

		err := store.WithTx(ctx, func(repos repository.Repositories) error {
			Expect(repos.Queue.Insert(ctx, live())).To(Succeed())
			Expect(repos.Queue.Insert(ctx, live())).To(MatchError(repository.ErrDuplicate))
			return repos.RawEvents.Insert(ctx, &domain.RawWebhookEvent{
				TenantID: tenant, SourceEventID: "evt-live", EventType: domain.EventIssueCreated, IssueID: "ABC-1", Payload: []byte(`{}`),
			})
		})
		Expect(err).NotTo(HaveOccurred())

		stats, err := store.Repos().Queue.Stats(ctx, tenant)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats[domain.QueueStatusPending]).To(Equal(int64(1)))
	})

	It("keeps the first ticket id on mapping conflict", func() {
		repos := store.Repos()
		now := time.Now().UTC()
		_, err := repos.Mappings.Upsert(ctx, &domain.IssueTicketMapping{TenantID: tenant, IssueID: "ABC-1", TicketID: "web#1", SyncStatus: domain.SyncStatusSynced, LastSyncedAt: now})
		Expect(err).NotTo(HaveOccurred())

		stored, err := repos.Mappings.Upsert(ctx, &domain.IssueTicketMapping{TenantID: tenant, IssueID: "ABC-1", TicketID: "web#2", SyncStatus: domain.SyncStatusSynced, LastSyncedAt: now})
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.TicketID).To(Equal("web#1"))
	})

	It("accumulates metrics additively", func() {
		repos := store.Repos()
		day := time.Now().UTC()
		for i := 0; i < 4; i++ {
			Expect(repos.Metrics.Increment(ctx, tenant, day, domain.MetricsDelta{TicketsUpdated: 1, Errors: 1})).To(Succeed())
		}
		rows, err := repos.Metrics.Range(ctx, tenant, day, day)
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].TicketsUpdated).To(Equal(int64(4)))
		Expect(rows[0].Errors).To(Equal(int64(4)))
	})
})
