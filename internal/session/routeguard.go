package session

import (
	"fmt"

	"github.com/Pool-labs/Pool/internal/domain"
)

// Group is a screen group a client can be in.
type Group string

const (
	GroupUnauthenticated Group = "unauthenticated"
	GroupOnboardingStep1 Group = "onboarding-step-1"
	GroupOnboardingStep2 Group = "onboarding-step-2"
	GroupMain            Group = "main"
)

// Groups lists every group in display order.
var Groups = []Group{GroupUnauthenticated, GroupOnboardingStep1, GroupOnboardingStep2, GroupMain}

// ParseGroup validates a group name received from a client.
func ParseGroup(s string) (Group, error) {
	for _, g := range Groups {
		if string(g) == s {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown group %q", s)
}

func (g Group) isOnboarding() bool {
	return g == GroupOnboardingStep1 || g == GroupOnboardingStep2
}

// GuardInput is everything a routing decision depends on. Progress is nil
// when the account record carries no onboarding marker.
type GuardInput struct {
	HasIdentity bool
	HasAccount  bool
	Progress    *domain.OnboardingProgress
	Current     Group
}

// Decision tells the client whether to move and where.
type Decision struct {
	Redirect bool  `json:"redirect"`
	Target   Group `json:"target"`
}

type rule struct {
	when   func(GuardInput) bool
	target Group
}

func progressIs(in GuardInput, values ...domain.OnboardingProgress) bool {
	if in.Progress == nil {
		return false
	}
	for _, v := range values {
		if *in.Progress == v {
			return true
		}
	}
	return false
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		when: func(in GuardInput) bool {
			return !in.HasIdentity && in.Current != GroupUnauthenticated
		},
		target: GroupUnauthenticated,
	},
	{
		when: func(in GuardInput) bool {
			return in.HasIdentity && !in.HasAccount && !in.Current.isOnboarding()
		},
		target: GroupOnboardingStep1,
	},
	{
		when: func(in GuardInput) bool {
			return in.HasIdentity && in.HasAccount &&
				(in.Progress == nil || progressIs(in, domain.ProgressNone)) &&
				!in.Current.isOnboarding()
		},
		target: GroupOnboardingStep1,
	},
	{
		when: func(in GuardInput) bool {
			return in.HasIdentity && in.HasAccount && progressIs(in, domain.ProgressProfileCollected) &&
				in.Current != GroupOnboardingStep2 && in.Current != GroupMain
		},
		target: GroupOnboardingStep2,
	},
	{
		when: func(in GuardInput) bool {
			return in.HasIdentity && in.HasAccount && progressIs(in, domain.ProgressFundingLinked) &&
				(in.Current == GroupUnauthenticated || in.Current.isOnboarding())
		},
		target: GroupMain,
	},
}

// Decide selects the group a client should be in. It is a pure function of
// its input.
func Decide(in GuardInput) Decision {
	for _, r := range rules {
		if r.when(in) {
			return Decision{Redirect: true, Target: r.target}
		}
	}
	return Decision{Redirect: false, Target: in.Current}
}
