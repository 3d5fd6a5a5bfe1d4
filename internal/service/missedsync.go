package service

import (
	"time"

	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/warphase"
)

// ClanWarState is one clan's view for a missed-sync pass.
type ClanWarState struct {
	Tag      string
	Phase    warphase.Phase
	WarStart *time.Time
}

// MissedSync flags clans that missed the alliance-wide sync window.
// The baseline is the earliest war start among clans currently at war;
// a clan missed sync when it is still out of war past baseline+window,
// or its own war started strictly later than baseline+window. With no
// clan at war anywhere there is no baseline and nobody is flagged.
//
// Stragglers are excluded from aggregate sync-number reporting so they
// do not corrupt the cohort's shared number.
func MissedSync(cohort []ClanWarState, now time.Time, window time.Duration) map[string]bool {
	flagged := make(map[string]bool)

	var baseline *time.Time
	for _, c := range cohort {
		if c.Phase == warphase.NotInWar || c.WarStart == nil {
			continue
		}
		if baseline == nil || c.WarStart.Before(*baseline) {
			t := *c.WarStart
			baseline = &t
		}
	}
	if baseline == nil {
		return flagged
	}
	cutoff := baseline.Add(window)

	for _, c := range cohort {
		switch {
		case c.Phase == warphase.NotInWar:
			if !now.Before(cutoff) {
				flagged[domain.NormalizeTag(c.Tag)] = true
			}
		case c.WarStart != nil && c.WarStart.After(cutoff):
			flagged[domain.NormalizeTag(c.Tag)] = true
		}
	}
	return flagged
}
