package service

import (
	"sort"
	"time"

	"fwa-warsync/internal/domain"
)

// AuditInput is a settled war plus the plan it was fought under.
type AuditInput struct {
	MatchType       domain.MatchType
	ExpectedOutcome domain.Outcome
	LoseStyle       domain.LoseStyle
	WarEnd          time.Time

	Members []domain.WarMember
	Attacks []domain.AttackRecord

	// Plan policy, community-dictated.
	StrictWindow time.Duration
	TrueStarCap  int
	LoseTopCut   int
}

// Audit classifies each member's attacks against the assigned plan.
// Blacklist and mismatch wars are free-form and return an empty
// verdict. Attacks are evaluated in observed order so running
// true-star totals mean what they meant at attack time.
func Audit(in AuditInput) domain.ComplianceVerdict {
	verdict := domain.ComplianceVerdict{
		MissedBoth:       []string{},
		NotFollowingPlan: []string{},
	}
	if in.MatchType == domain.MatchBlacklist || in.MatchType == domain.MatchMismatch {
		return verdict
	}

	roster := make(map[string]domain.WarMember, len(in.Members))
	for _, m := range in.Members {
		roster[domain.NormalizeTag(m.Tag)] = m
	}

	for _, m := range in.Members {
		if m.AttacksUsed == 0 {
			verdict.MissedBoth = append(verdict.MissedBoth, m.Name)
		}
	}
	sort.Strings(verdict.MissedBoth)

	if in.ExpectedOutcome == domain.OutcomeUnknown || in.ExpectedOutcome == "" {
		return verdict
	}

	attacks := make([]domain.AttackRecord, len(in.Attacks))
	copy(attacks, in.Attacks)
	sort.SliceStable(attacks, func(i, j int) bool {
		if !attacks[i].ObservedAt.Equal(attacks[j].ObservedAt) {
			return attacks[i].ObservedAt.Before(attacks[j].ObservedAt)
		}
		return attacks[i].Ordinal < attacks[j].Ordinal
	})

	violators := map[string]bool{}
	switch in.ExpectedOutcome {
	case domain.OutcomeWin:
		auditWinPlan(in, attacks, violators)
	case domain.OutcomeLose:
		if in.LoseStyle == domain.LoseTripleTop30 {
			auditLoseTop(in, attacks, violators)
		} else {
			auditLoseTraditional(in, attacks, violators)
		}
	}

	for tag := range violators {
		verdict.NotFollowingPlan = append(verdict.NotFollowingPlan, displayName(roster, tag, attacks))
	}
	verdict.NotFollowingPlan = dedupSorted(verdict.NotFollowingPlan)
	return verdict
}

// auditWinPlan enforces the WIN script: inside the strict window
// (more than StrictWindow left AND the clan's true-star total before
// the attack under the cap) every attacking member owes a 3-star on
// their mirror. The obligation is per member across all their
// strict-window attacks, so a member can violate without any single
// attack being individually invalid.
func auditWinPlan(in AuditInput, attacks []domain.AttackRecord, violators map[string]bool) {
	running := 0
	activeInStrict := map[string]bool{}
	mirrorTriple := map[string]bool{}

	for _, a := range attacks {
		before := running
		running += a.TrueStars

		remaining := in.WarEnd.Sub(a.ObservedAt)
		strict := remaining > in.StrictWindow && before < in.TrueStarCap
		if !strict {
			continue
		}

		tag := domain.NormalizeTag(a.AttackerTag)
		activeInStrict[tag] = true
		mirror := a.AttackerPosition == a.DefenderPosition

		if mirror && a.Stars == 3 {
			mirrorTriple[tag] = true
			continue
		}
		if !mirror && a.Stars == 3 && a.TrueStars > 0 {
			violators[tag] = true
		}
		if !mirror && a.Stars == 0 {
			violators[tag] = true
		}
	}

	for tag := range activeInStrict {
		if !mirrorTriple[tag] {
			violators[tag] = true
		}
	}
}

// auditLoseTop enforces the "triple top 30" lose style: members may
// only farm stars off the top bases.
func auditLoseTop(in AuditInput, attacks []domain.AttackRecord, violators map[string]bool) {
	for _, a := range attacks {
		if a.DefenderPosition > in.LoseTopCut {
			violators[domain.NormalizeTag(a.AttackerTag)] = true
		}
	}
}

// auditLoseTraditional enforces the traditional lose script. Late
// attacks (under StrictWindow remaining) must be exactly a 2-star
// mirror or a 1-star non-mirror. Earlier attacks must score exactly 1
// or 2 stars, and may not push the clan's running true-star total past
// the cap.
func auditLoseTraditional(in AuditInput, attacks []domain.AttackRecord, violators map[string]bool) {
	running := 0
	for _, a := range attacks {
		running += a.TrueStars
		tag := domain.NormalizeTag(a.AttackerTag)
		mirror := a.AttackerPosition == a.DefenderPosition
		remaining := in.WarEnd.Sub(a.ObservedAt)

		if remaining < in.StrictWindow {
			valid := (mirror && a.Stars == 2) || (!mirror && a.Stars == 1)
			if !valid {
				violators[tag] = true
			}
			continue
		}

		if a.Stars != 1 && a.Stars != 2 {
			violators[tag] = true
		}
		// Only attacks that contribute true stars can push the clan
		// past the cap; a zero-true-star hit after the cap is crossed
		// is not the attacker's fault.
		if a.TrueStars > 0 && running > in.TrueStarCap {
			violators[tag] = true
		}
	}
}

// displayName resolves a violator's name from the roster by tag,
// falling back to the name on their first attack record.
func displayName(roster map[string]domain.WarMember, tag string, attacks []domain.AttackRecord) string {
	if m, ok := roster[tag]; ok && m.Name != "" {
		return m.Name
	}
	for _, a := range attacks {
		if domain.NormalizeTag(a.AttackerTag) == tag && a.AttackerName != "" {
			return a.AttackerName
		}
	}
	return tag
}

func dedupSorted(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	var prev string
	for i, n := range names {
		if i > 0 && n == prev {
			continue
		}
		out = append(out, n)
		prev = n
	}
	return out
}
