package domain

import (
	"strings"
	"time"
)

type MatchType string

const (
	MatchFWA       MatchType = "FWA"
	MatchBlacklist MatchType = "BL"
	MatchMismatch  MatchType = "MM"
)

type Outcome string

const (
	OutcomeWin     Outcome = "WIN"
	OutcomeLose    Outcome = "LOSE"
	OutcomeTie     Outcome = "TIE"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// LoseStyle is the plan a clan follows when it is scripted to lose an
// FWA war.
type LoseStyle string

const (
	LoseTraditional LoseStyle = "traditional"
	LoseTripleTop30 LoseStyle = "tripleTop30"
)

// NormalizeTag strips the leading '#' and uppercases a clan or player
// tag so tags from the game API and the points site compare equal.
func NormalizeTag(tag string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// PointsSnapshot is one scrape of the external points site for a clan.
// Immutable once fetched; a re-scrape produces a new instance.
type PointsSnapshot struct {
	Tag      string
	ClanName string

	// Balance is the clan's own points row; nil when the row was
	// missing or unparsable.
	Balance *int

	WinnerBoxTags []string
	WinnerBoxSync *int

	HeaderPrimaryTag      string
	HeaderOpponentTag     string
	HeaderPrimaryBalance  *int
	HeaderOpponentBalance *int

	FetchedAt time.Time
}

// UpdatedFor reports whether the site reflects the given opponent:
// the opponent appears in the winner box and, when a previous sync is
// known, the winner box carries a newer sync number.
func (s *PointsSnapshot) UpdatedFor(opponentTag string, previousSync *int) bool {
	if s == nil {
		return false
	}
	want := NormalizeTag(opponentTag)
	if want == "" {
		return false
	}
	found := false
	for _, t := range s.WinnerBoxTags {
		if NormalizeTag(t) == want {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if previousSync != nil {
		if s.WinnerBoxSync == nil || *s.WinnerBoxSync <= *previousSync {
			return false
		}
	}
	return true
}

type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobInSync      JobStatus = "in_sync"
	JobOutOfSync   JobStatus = "out_of_sync"
	JobMaxAttempts JobStatus = "max_attempts"
	JobError       JobStatus = "error"
)

// Terminal reports whether the status ends the job. pending and error
// jobs are re-attempted.
func (s JobStatus) Terminal() bool {
	return s == JobInSync || s == JobOutOfSync || s == JobMaxAttempts
}

// ReconciliationJob is the per-(clan, opponent) retry record, stored
// as a JSON blob in the settings store, one key per clan.
type ReconciliationJob struct {
	ClanTag     string    `json:"clan_tag"`
	OpponentTag string    `json:"opponent_tag"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextAttempt time.Time `json:"next_attempt_at"`
	Completed   bool      `json:"completed"`
	Status      JobStatus `json:"status"`

	LedgerBalance *int `json:"ledger_balance,omitempty"`
	SiteBalance   *int `json:"site_balance,omitempty"`
	SiteSync      *int `json:"site_sync,omitempty"`

	// The opponent probe runs at most once per job lifetime to bound
	// external request volume.
	OpponentChecked bool   `json:"opponent_checked"`
	OpponentIsFWA   bool   `json:"opponent_is_fwa"`
	OpponentBalance *int   `json:"opponent_balance,omitempty"`
	OpponentName    string `json:"opponent_name,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// ConfirmedScrape is the verified points snapshot frozen once the site
// is confirmed updated for the current opponent. It is preferred over
// live re-scraping until the next war.
type ConfirmedScrape struct {
	ClanName        string    `json:"clan_name"`
	OpponentTag     string    `json:"opponent_tag"`
	OpponentName    string    `json:"opponent_name"`
	ClanBalance     *int      `json:"clan_balance,omitempty"`
	OpponentBalance *int      `json:"opponent_balance,omitempty"`
	SyncNumber      *int      `json:"sync_number,omitempty"`
	ExpectedOutcome Outcome   `json:"expected_outcome"`
	Summary         string    `json:"summary"`
	ConfirmedAt     time.Time `json:"confirmed_at"`
}

type TrackedClan struct {
	Tag           string
	Name          string
	LoseStyle     LoseStyle
	PointsBalance *int

	ConfirmedScrape *ConfirmedScrape

	CreatedAt time.Time
	UpdatedAt time.Time
}

type WarHistoryRecord struct {
	ID           string
	ClanTag      string
	WarStartTime time.Time

	SyncNumber   *int
	MatchType    MatchType
	OpponentTag  string
	OpponentName string

	ClanStars           *int
	OpponentStars       *int
	ClanDestruction     *float64
	OpponentDestruction *float64

	PointDelta      *int
	ExpectedOutcome Outcome
	ActualOutcome   Outcome

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttackRecord is one attack by a member of a tracked clan. TrueStars
// is marginal credit: stars gained beyond any previous attacker's best
// result against the same defender.
type AttackRecord struct {
	ClanTag      string
	WarStartTime time.Time

	AttackerTag      string
	AttackerName     string
	AttackerPosition int
	DefenderTag      string
	DefenderName     string
	DefenderPosition int

	Ordinal     int
	Stars       int
	TrueStars   int
	Destruction float64

	ObservedAt time.Time
}

// WarMember is one roster entry of the tracked clan in a settled war.
type WarMember struct {
	ClanTag      string
	WarStartTime time.Time

	Tag         string
	Name        string
	Position    int
	AttacksUsed int
}

// ComplianceVerdict is derived on demand, never stored.
type ComplianceVerdict struct {
	MissedBoth       []string `json:"missed_both"`
	NotFollowingPlan []string `json:"not_following_plan"`
}
