package main

import (
	"bytes"
	"os"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/auth"
	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/signature"
)

var _ = Describe("bridgectl", func() {
	setenv := func(key, value string) {
		previous, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				_ = os.Setenv(key, previous)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	BeforeEach(func() {
		setenv("APP_ENV", "test")
		setenv("AUTH_JWT_SECRET", "ctl-secret")
		setenv("WEBHOOK_SIGNING_SECRET", "hook-secret")
	})

	It("mints a token the API accepts", func() {
		var out bytes.Buffer
		Expect(run([]string{"token", "--subject", "cron", "--role", "ADMIN"}, nil, &out)).To(Succeed())

		claims, err := auth.NewTokenManager("ctl-secret", 5).ParseToken(strings.TrimSpace(out.String()))
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.SubjectID).To(Equal("cron"))
		Expect(claims.Role).To(Equal(domain.ServiceRoleAdmin))
	})

	It("rejects unknown roles", func() {
		err := run([]string{"token", "--subject", "cron", "--role", "ROOT"}, nil, &bytes.Buffer{})
		Expect(err).To(MatchError(ContainSubstring("unknown role")))
	})

	It("requires a subject", func() {
		Expect(run([]string{"token"}, nil, &bytes.Buffer{})).To(MatchError("--subject is required"))
	})

	It("signs a payload from stdin", func() {
		body := []byte(`{"action":"created"}`)
		var out bytes.Buffer
		Expect(run([]string{"sign", "--timestamp", "1700000000"}, bytes.NewReader(body), &out)).To(Succeed())

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(Equal("X-Proxy-Timestamp: 1700000000"))
		expected := signature.NewVerifier("hook-secret", 0).Sign("1700000000", body)
		Expect(lines[1]).To(Equal("X-Proxy-Signature: sha256=" + expected))
	})

	It("fails on unknown commands", func() {
		Expect(run([]string{"launch"}, nil, &bytes.Buffer{})).To(MatchError(`unknown command "launch"`))
	})
})
