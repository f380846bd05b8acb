package errorutil_test

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

var _ = Describe("DomainError", func() {
	It("marks business skips", func() {
		for _, err := range []error{
			apperrors.NewConfigurationError("bridge disabled"),
			apperrors.NewDuplicateDelivery(),
			apperrors.NewCircuitOpen(nil),
			apperrors.NewRateLimited("rate limit exceeded"),
		} {
			de := apperrors.ToDomainError(err)
			Expect(de.Skip()).To(BeTrue(), de.Code)
			Expect(de.HTTPStatus).To(Equal(http.StatusOK))
		}
		Expect(apperrors.ToDomainError(apperrors.NewConflict("x", nil)).Skip()).To(BeFalse())
	})

	It("finds codes through wrapping", func() {
		err := fmt.Errorf("approving: %w", apperrors.NewConflict("triage item already decided", nil))
		Expect(apperrors.HasCode(err, apperrors.CodeConflict)).To(BeTrue())
		Expect(apperrors.HasCode(err, apperrors.CodeNotFound)).To(BeFalse())
	})

	It("keeps the cause of downstream failures", func() {
		cause := errors.New("503 Service Unavailable")
		err := apperrors.NewDownstreamError("create", cause)
		Expect(err).To(MatchError(ContainSubstring("ticket system create failed")))
		Expect(errors.Is(err, cause)).To(BeTrue())
	})

	It("maps missing rows to not found", func() {
		de := apperrors.ToDomainError(fmt.Errorf("get: %w", pgx.ErrNoRows))
		Expect(de.Code).To(Equal(apperrors.CodeNotFound))
		Expect(de.HTTPStatus).To(Equal(http.StatusNotFound))
	})

	It("treats unknown errors as internal", func() {
		cause := errors.New("boom")
		de := apperrors.ToDomainError(cause)
		Expect(de.Code).To(Equal(apperrors.CodeInternal))
		Expect(de.Message).To(Equal("internal server error"))
		Expect(de.HTTPStatus).To(Equal(http.StatusInternalServerError))
		Expect(errors.Is(de, cause)).To(BeTrue())
		Expect(apperrors.ToDomainError(nil)).To(BeNil())
	})
})
