package config_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/config"
)

var _ = Describe("Load", func() {
	setEnv := func(key, value string) {
		prev, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				_ = os.Setenv(key, prev)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	It("applies defaults", func() {
		setEnv("APP_ENV", "development")
		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Queue.MaxAttempts).To(BeNumerically(">", 0))
		Expect(cfg.Webhook.FreshnessWindow()).To(BeNumerically(">", 0))
		Expect(cfg.App.Addr()).To(HaveSuffix(":" + cfg.App.Port))
	})

	It("reads queue tuning from the environment", func() {
		setEnv("QUEUE_BATCH_SIZE", "7")
		setEnv("QUEUE_LEASE_SECONDS", "45")
		setEnv("QUEUE_BACKOFF_BASE_SECONDS", "2")
		setEnv("QUEUE_BACKOFF_CAP_SECONDS", "20")

		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Queue.BatchSize).To(Equal(7))
		Expect(cfg.Queue.Lease()).To(Equal(45 * time.Second))
		Expect(cfg.Queue.BackoffBase()).To(Equal(2 * time.Second))
		Expect(cfg.Queue.BackoffCap()).To(Equal(20 * time.Second))
	})

	It("requires a signing secret in production", func() {
		setEnv("APP_ENV", "production")
		setEnv("WEBHOOK_SIGNING_SECRET", "")
		setEnv("AUTH_JWT_SECRET", "prod-secret")

		_, err := config.Load()
		Expect(err).To(MatchError(ContainSubstring("WEBHOOK_SIGNING_SECRET")))
	})

	It("rejects a backoff cap below the base", func() {
		setEnv("APP_ENV", "development")
		setEnv("QUEUE_BACKOFF_BASE_SECONDS", "60")
		setEnv("QUEUE_BACKOFF_CAP_SECONDS", "10")

		_, err := config.Load()
		Expect(err).To(HaveOccurred())
	})
})
