package worker_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/queue"
	"github.com/spec-kit/issue-bridge/internal/repository/memory"
	"github.com/spec-kit/issue-bridge/internal/ticketclient/ticketclienttest"
	"github.com/spec-kit/issue-bridge/internal/worker"
)

var _ = Describe("Runner", func() {
	It("drains full batches back to back and stops with its context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		store := memory.NewStore()
		Expect(store.Repos().Configs.Upsert(ctx, &domain.BridgeConfig{TenantID: "t1", Enabled: true})).To(Succeed())
		q := queue.New(store.Repos().Queue, queue.Options{})
		for _, id := range []string{"A-1", "A-2", "A-3"} {
			_, err := q.Enqueue(ctx, createItem(id))
			Expect(err).NotTo(HaveOccurred())
		}
		client := &ticketclienttest.Fake{}
		processor := worker.NewProcessor(worker.Dependencies{Store: store, Queue: q, Client: client},
			worker.Options{BatchSize: 2, Concurrency: 1, Lease: time.Minute})

		done := make(chan struct{})
		go func() {
			defer close(done)
			worker.NewRunner(processor, time.Hour, nil).Start(ctx)
		}()

		Eventually(func() int { return len(client.Creates()) }).Should(Equal(3))
		cancel()
		Eventually(done).Should(BeClosed())
	})
})
