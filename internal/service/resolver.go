package service

import "fwa-warsync/internal/domain"

// The points site exposes the same balances in more than one place and
// they disagree while the site is mid-update. These resolvers pin the
// precedence order in one spot instead of repeating conditional chains
// at every call site.

// resolveClanBalance prefers the clan's own scraped row over the
// header the site embeds next to the winner box.
func resolveClanBalance(snap *domain.PointsSnapshot) *int {
	if snap == nil {
		return nil
	}
	if snap.Balance != nil {
		return snap.Balance
	}
	return snap.HeaderPrimaryBalance
}

// resolveOpponentBalance prefers the opponent balance embedded in the
// clan page header, falling back to the one-shot direct probe of the
// opponent's own page.
func resolveOpponentBalance(snap *domain.PointsSnapshot, probed *int) *int {
	if snap != nil && snap.HeaderOpponentBalance != nil {
		return snap.HeaderOpponentBalance
	}
	return probed
}
