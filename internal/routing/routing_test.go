package routing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spec-kit/issue-bridge/internal/domain"
	"github.com/spec-kit/issue-bridge/internal/routing"
)

func ptr[T any](v T) *T { return &v }

var _ = Describe("Route", func() {
	var event *domain.IssueEvent

	BeforeEach(func() {
		event = &domain.IssueEvent{
			IssueID:     "ABC-1",
			Title:       "TypeError: cannot read property 'id' of undefined",
			Culprit:     "app/checkout.js in submitOrder",
			Level:       "error",
			ProjectSlug: "web",
			Environment: "production",
			Tags:        []domain.Tag{{Key: "team", Value: "payments"}, {Key: "browser", Value: "Chrome"}},
		}
	})

	rule := func(id string, priority int, match domain.RuleMatch, project string) domain.RoutingRule {
		return domain.RoutingRule{
			ID:       id,
			Name:     id,
			Priority: priority,
			Enabled:  true,
			Match:    match,
			Target:   domain.RoutingTarget{ProjectID: project},
		}
	}

	It("returns the first matching rule by ascending priority", func() {
		rules := []domain.RoutingRule{
			rule("r-late", 20, domain.RuleMatch{ProjectSlugs: []string{"web"}}, "late"),
			rule("r-early", 10, domain.RuleMatch{Environments: []string{"production"}}, "early"),
		}

		decision, ok := routing.Route(event, rules, nil)
		Expect(ok).To(BeTrue())
		Expect(decision.Target.ProjectID).To(Equal("early"))
		Expect(decision.RuleID).To(Equal("r-early"))
		Expect(decision.Source).To(Equal(routing.SourceRule))
	})

	It("breaks priority ties by rule id", func() {
		rules := []domain.RoutingRule{
			rule("b", 1, domain.RuleMatch{}, "second"),
			rule("a", 1, domain.RuleMatch{}, "first"),
		}
		decision, ok := routing.Route(event, rules, nil)
		Expect(ok).To(BeTrue())
		Expect(decision.Target.ProjectID).To(Equal("first"))
	})

	It("ANDs predicate fields", func() {
		rules := []domain.RoutingRule{
			rule("wrong-team", 1, domain.RuleMatch{ProjectSlugs: []string{"web"}, Tags: map[string]string{"team": "search"}}, "search"),
			rule("right-team", 2, domain.RuleMatch{ProjectSlugs: []string{"web"}, Tags: map[string]string{"team": "payments"}}, "payments"),
		}
		decision, ok := routing.Route(event, rules, nil)
		Expect(ok).To(BeTrue())
		Expect(decision.Target.ProjectID).To(Equal("payments"))
	})

	It("matches title substrings and culprit patterns", func() {
		rules := []domain.RoutingRule{
			rule("title", 1, domain.RuleMatch{TitleContains: "typeerror", CulpritPattern: `^app/checkout\.js`}, "checkout"),
		}
		decision, ok := routing.Route(event, rules, nil)
		Expect(ok).To(BeTrue())
		Expect(decision.Target.ProjectID).To(Equal("checkout"))
	})

	It("never matches an invalid pattern", func() {
		rules := []domain.RoutingRule{rule("broken", 1, domain.RuleMatch{TitlePattern: "("}, "broken")}
		_, ok := routing.Route(event, rules, nil)
		Expect(ok).To(BeFalse())
		Expect(routing.ValidatePattern("(")).To(HaveOccurred())
	})

	It("skips disabled rules", func() {
		disabled := rule("off", 1, domain.RuleMatch{}, "off")
		disabled.Enabled = false
		decision, ok := routing.Route(event, []domain.RoutingRule{disabled, rule("on", 2, domain.RuleMatch{}, "on")}, nil)
		Expect(ok).To(BeTrue())
		Expect(decision.Target.ProjectID).To(Equal("on"))
	})

	It("falls back to the default routing", func() {
		fallback := &domain.RoutingTarget{ProjectID: "triage", OwnerID: ptr("oncall")}
		rules := []domain.RoutingRule{rule("mobile", 1, domain.RuleMatch{ProjectSlugs: []string{"ios"}}, "mobile")}

		decision, ok := routing.Route(event, rules, fallback)
		Expect(ok).To(BeTrue())
		Expect(decision.Source).To(Equal(routing.SourceDefault))
		Expect(decision.Target.ProjectID).To(Equal("triage"))
	})

	It("reports no destination without rules or default", func() {
		_, ok := routing.Route(event, nil, nil)
		Expect(ok).To(BeFalse())
	})

	It("is deterministic and unaffected by reordering non-matching rules", func() {
		matching := rule("match", 5, domain.RuleMatch{ProjectSlugs: []string{"web"}}, "web")
		others := []domain.RoutingRule{
			rule("ios", 1, domain.RuleMatch{ProjectSlugs: []string{"ios"}}, "ios"),
			rule("staging", 2, domain.RuleMatch{Environments: []string{"staging"}}, "staging"),
			rule("android", 9, domain.RuleMatch{ProjectSlugs: []string{"android"}}, "android"),
		}

		first, ok := routing.Route(event, append([]domain.RoutingRule{matching}, others...), nil)
		Expect(ok).To(BeTrue())

		reordered := []domain.RoutingRule{others[2], others[0], matching, others[1]}
		for i := 0; i < 10; i++ {
			again, ok := routing.Route(event, reordered, nil)
			Expect(ok).To(BeTrue())
			Expect(again).To(Equal(first))
		}
	})

	It("does not mutate the caller's rule slice", func() {
		rules := []domain.RoutingRule{rule("z", 9, domain.RuleMatch{}, "z"), rule("a", 1, domain.RuleMatch{}, "a")}
		_, _ = routing.Route(event, rules, nil)
		Expect(rules[0].ID).To(Equal("z"))
	})
})
