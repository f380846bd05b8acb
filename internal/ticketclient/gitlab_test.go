package ticketclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/ticketclient"
	apperrors "github.com/spec-kit/issue-bridge/pkg/util/errorutil"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

var _ = Describe("GitLab", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		mu       sync.Mutex
		requests []recordedRequest
		status   int
		client   *ticketclient.GitLab
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = nil
		status = http.StatusCreated

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
			code := status
			mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			if code >= 300 {
				_, _ = w.Write([]byte(`{"message":"boom"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":1001,"iid":7,"web_url":"https://gitlab.example.com/web/-/issues/7"}`))
		}))
		DeferCleanup(server.Close)

		var err error
		client, err = ticketclient.NewGitLab(server.URL, "token", 5*time.Second, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("creates an issue with scoped labels and an assignment", func() {
		owner := "jane"
		ticket, err := client.Create(ctx, domain.CreatePayload{
			Title:       "TypeError",
			Description: "details",
			Priority:    domain.TicketPriorityHigh,
			Type:        domain.TicketTypeBug,
			Tags:        []domain.Tag{{Key: "browser", Value: "Chrome"}},
		}, "42", &owner)
		Expect(err).NotTo(HaveOccurred())
		Expect(ticket.ID).To(Equal("42#7"))
		Expect(ticket.URL).To(Equal("https://gitlab.example.com/web/-/issues/7"))

		Expect(requests).To(HaveLen(1))
		Expect(requests[0].Method).To(Equal(http.MethodPost))
		Expect(requests[0].Path).To(Equal("/api/v4/projects/42/issues"))

		var body map[string]any
		Expect(json.Unmarshal([]byte(requests[0].Body), &body)).To(Succeed())
		Expect(body["title"]).To(Equal("TypeError"))
		Expect(body["description"]).To(ContainSubstring("/assign @jane"))
		Expect(requests[0].Body).To(ContainSubstring("priority::high"))
		Expect(requests[0].Body).To(ContainSubstring("tag::browser=Chrome"))
	})

	It("closes, escalates and comments on update", func() {
		reopened := domain.TicketStatusReopened
		urgent := domain.TicketPriorityUrgent
		status = http.StatusOK

		err := client.Update(ctx, "42#7", domain.TicketPatch{Status: &reopened, Priority: &urgent, Comment: "Issue regressed in release 1.4.2."})
		Expect(err).NotTo(HaveOccurred())

		Expect(requests).To(HaveLen(2))
		Expect(requests[0].Method).To(Equal(http.MethodPut))
		Expect(requests[0].Path).To(Equal("/api/v4/projects/42/issues/7"))
		Expect(requests[0].Body).To(ContainSubstring("reopen"))
		Expect(requests[0].Body).To(ContainSubstring("priority::urgent"))
		Expect(requests[1].Path).To(Equal("/api/v4/projects/42/issues/7/notes"))
		Expect(requests[1].Body).To(ContainSubstring("1.4.2"))
	})

	It("wraps non-2xx responses as downstream errors", func() {
		status = http.StatusBadGateway
		_, err := client.Create(ctx, domain.CreatePayload{Title: "x", Priority: domain.TicketPriorityLow}, "42", nil)
		Expect(apperrors.HasCode(err, apperrors.CodeDownstream)).To(BeTrue())
	})

	It("rejects malformed ticket ids without calling the API", func() {
		closed := domain.TicketStatusResolved
		Expect(client.Update(ctx, "no-iid", domain.TicketPatch{Status: &closed})).To(HaveOccurred())
		Expect(requests).To(BeEmpty())
	})
})

var _ = Describe("ParseTicketID", func() {
	It("splits on the last hash", func() {
		project, iid, err := ticketclient.ParseTicketID("group/web#12")
		Expect(err).NotTo(HaveOccurred())
		Expect(project).To(Equal("group/web"))
		Expect(iid).To(Equal(int64(12)))
		Expect(ticketclient.FormatTicketID(project, iid)).To(Equal("group/web#12"))
	})
})
