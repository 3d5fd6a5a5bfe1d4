// Package tiebreak reproduces the FWA community's point-balance and
// tag-ordering rule for projecting which side of a sync is scripted to
// win. The rule is the external site's published convention; any
// deviation here breaks interoperability with its posted outcomes.
package tiebreak

import (
	"fmt"
	"strings"

	"fwa-warsync/internal/domain"
)

// The site orders tag characters by this fixed alphabet, digits first.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// rankUnknown sorts after every known character.
const rankUnknown = len(alphabet)

func rank(ch byte) int {
	if i := strings.IndexByte(alphabet, ch); i >= 0 {
		return i
	}
	return rankUnknown
}

// Compare orders two tags the way the site does: normalized, character
// by character up to the longer tag, missing characters losing every
// comparison. Returns <0, 0 or >0.
func Compare(a, b string) int {
	a = domain.NormalizeTag(a)
	b = domain.NormalizeTag(b)
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ra, rb := rankUnknown, rankUnknown
		if i < len(a) {
			ra = rank(a[i])
		}
		if i < len(b) {
			rb = rank(b[i])
		}
		if ra != rb {
			return ra - rb
		}
	}
	return 0
}

// Project decides WIN or LOSE for the clan side of a matched pair.
// Unknown points, a missing sync number on a point tie, or identical
// tags all project to OutcomeUnknown rather than a guess.
//
// On a point tie the sync parity picks the winner: even syncs send the
// match to the tag that sorts last ("high"), odd syncs to the tag that
// sorts first ("low").
func Project(clanTag, opponentTag string, clanPoints, opponentPoints *int, syncNumber *int) domain.Outcome {
	if clanPoints == nil || opponentPoints == nil {
		return domain.OutcomeUnknown
	}
	if *clanPoints != *opponentPoints {
		if *clanPoints > *opponentPoints {
			return domain.OutcomeWin
		}
		return domain.OutcomeLose
	}
	if syncNumber == nil {
		return domain.OutcomeUnknown
	}
	cmp := Compare(clanTag, opponentTag)
	if cmp == 0 {
		return domain.OutcomeUnknown
	}
	high := *syncNumber%2 == 0
	if (high && cmp > 0) || (!high && cmp < 0) {
		return domain.OutcomeWin
	}
	return domain.OutcomeLose
}

// Summary renders the human-readable matchup line stored alongside a
// confirmed scrape, e.g. "Alpha (1200) vs Beta (1195): WIN expected".
func Summary(clanName, clanTag, oppName, oppTag string, clanPoints, oppPoints *int, syncNumber *int) string {
	outcome := Project(clanTag, oppTag, clanPoints, oppPoints, syncNumber)
	verdict := "outcome undetermined"
	switch outcome {
	case domain.OutcomeWin:
		verdict = "WIN expected"
	case domain.OutcomeLose:
		verdict = "LOSE expected"
	}
	if clanPoints != nil && oppPoints != nil && *clanPoints == *oppPoints && syncNumber != nil {
		mode := "low"
		if *syncNumber%2 == 0 {
			mode = "high"
		}
		verdict = fmt.Sprintf("%s (tie, sync #%d %s tag)", verdict, *syncNumber, mode)
	}
	return fmt.Sprintf("%s (%s) vs %s (%s): %s",
		clanName, fmtPoints(clanPoints), oppName, fmtPoints(oppPoints), verdict)
}

func fmtPoints(p *int) string {
	if p == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *p)
}
