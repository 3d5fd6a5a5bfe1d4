package constants

import "time"

// External call bounds. Every outbound call made during a tick runs
// under one of these deadlines; a timeout is a retryable error, never
// a crash.
const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	TickTimeout        = 2 * time.Minute
)

// Reconciliation defaults. 10 attempts at 30-minute spacing gives the
// points site roughly five hours to catch up after a war starts.
const (
	DefaultReconcileMaxAttempts = 10
	DefaultReconcileInterval    = 30 * time.Minute
)

// Alliance policy defaults. These numbers are dictated by the FWA
// community, not by this codebase; changing them is a policy decision.
const (
	DefaultMissedSyncWindow = 2 * time.Hour
	DefaultStrictWindow     = 12 * time.Hour
	DefaultTrueStarCap      = 100
	DefaultLoseTopCutoff    = 30
)

const (
	DefaultPollInterval    = 10 * time.Minute
	DefaultTickConcurrency = 4
)

const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

// KV key lifetimes. The ledger never expires; job and phase keys are
// scoped to a war and a cleanup horizon well beyond one.
const (
	JobBlobTTL  = 14 * 24 * time.Hour
	PhaseKeyTTL = 30 * 24 * time.Hour
	LastWarTTL  = 14 * 24 * time.Hour
)

const (
	ShutdownTimeout = 5 * time.Second
)
