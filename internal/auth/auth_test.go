package auth_test

import (
	"net/http"
	"net/http/httptest"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/auth"
	"github.com/spec-kit/issue-bridge/internal/domain"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

var _ = Describe("TokenManager", func() {
	tokens := auth.NewTokenManager("secret", 5)

	It("round-trips a service token", func() {
		raw, meta, err := tokens.GenerateToken("cron", domain.ServiceRoleWorker)
		Expect(err).NotTo(HaveOccurred())
		Expect(meta.ExpiresAt.Sub(meta.IssuedAt).Minutes()).To(BeNumerically("==", 5))

		claims, err := tokens.ParseToken(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.SubjectID).To(Equal("cron"))
		Expect(claims.Role).To(Equal(domain.ServiceRoleWorker))
	})

	It("rejects tokens signed with another secret", func() {
		raw, _, err := auth.NewTokenManager("other", 5).GenerateToken("cron", domain.ServiceRoleAdmin)
		Expect(err).NotTo(HaveOccurred())
		_, err = tokens.ParseToken(raw)
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown roles", func() {
		raw, _, err := tokens.GenerateToken("cron", domain.ServiceRole("ROOT"))
		Expect(err).NotTo(HaveOccurred())
		_, err = tokens.ParseToken(raw)
		Expect(err).To(MatchError("unknown role"))
	})
})

var _ = Describe("Middleware", func() {
	var (
		tokens *auth.TokenManager
		app    *fiber.App
	)

	BeforeEach(func() {
		tokens = auth.NewTokenManager("secret", 5)
		app = fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
		}})
		mw := auth.NewAuthMiddleware(tokens)
		app.Post("/worker", mw.Handle, auth.RequireRole(domain.ServiceRoleWorker), func(c *fiber.Ctx) error {
			principal, _ := auth.PrincipalFromContext(c)
			return c.SendString(principal.SubjectID)
		})
		app.Get("/admin", mw.Handle, auth.RequireRole(), func(c *fiber.Ctx) error {
			return c.SendStatus(http.StatusNoContent)
		})
	})

	call := func(method, path string, role domain.ServiceRole) int {
		req := httptest.NewRequest(method, path, nil)
		if role != "" {
			raw, _, err := tokens.GenerateToken("caller", role)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer "+raw)
		}
		resp, err := app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		return resp.StatusCode
	}

	It("requires a bearer token", func() {
		Expect(call(http.MethodPost, "/worker", "")).To(Equal(http.StatusUnauthorized))
	})

	It("admits the worker role to the trigger", func() {
		Expect(call(http.MethodPost, "/worker", domain.ServiceRoleWorker)).To(Equal(http.StatusOK))
	})

	It("lets admins through everywhere", func() {
		Expect(call(http.MethodPost, "/worker", domain.ServiceRoleAdmin)).To(Equal(http.StatusOK))
		Expect(call(http.MethodGet, "/admin", domain.ServiceRoleAdmin)).To(Equal(http.StatusNoContent))
	})

	It("forbids workers on admin routes", func() {
		Expect(call(http.MethodGet, "/admin", domain.ServiceRoleWorker)).To(Equal(http.StatusForbidden))
	})
})
