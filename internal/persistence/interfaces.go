package persistence

import (
	"context"
	"time"

	"github.com/tradelab/outcomes/internal/outcome"
)

// Signal is an immutable trading idea produced by the detection pipeline.
// The resolution engine only reads it; UpdatedAt moving past an outcome's
// ComputedAt marks the outcome stale.
type Signal struct {
	ID         string    `db:"id"`
	Symbol     string    `db:"symbol"`
	Category   string    `db:"category"`
	DetectedAt time.Time `db:"detected_at"`
	EntryAt    time.Time `db:"entry_at"`

	EntryPrice float64 `db:"entry_price"`
	StopPrice  float64 `db:"stop_price"`
	Target1    float64 `db:"target1"`
	Target2    float64 `db:"target2"`

	// AnchorPrice is the detection-time reference (e.g. VWAP) and ATR the
	// detection-time average true range; zero when the detector did not
	// record them.
	AnchorPrice float64 `db:"anchor_price"`
	ATR         float64 `db:"atr"`

	ConfigHash string    `db:"config_hash"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// SignalOutcome is the resolution engine's sole mutable entity: one row per
// (signal, horizon-in-minutes) pair, upserted on that unique key.
//
// Invariant: ResolvedAt is non-nil exactly when OutcomeState is a
// completed_* value, and a resolved row carries the current resolve version
// plus a non-empty completion reason.
type SignalOutcome struct {
	ID         int64  `db:"id"`
	SignalID   string `db:"signal_id"`
	Symbol     string `db:"symbol"`
	HorizonMin int    `db:"horizon_min"`

	WindowStart     time.Time `db:"window_start"`
	WindowEnd       time.Time `db:"window_end"`
	IntervalMin     int       `db:"interval_min"`
	CandlesExpected int       `db:"candles_expected"`
	CandlesObserved int       `db:"candles_observed"`
	CoveragePct     float64   `db:"coverage_pct"`

	WindowStatus outcome.WindowStatus `db:"window_status"`
	OutcomeState outcome.State        `db:"outcome_state"`
	TradeState   outcome.TradeState   `db:"trade_state"`

	ExitReason outcome.ExitReason `db:"exit_reason"`
	ExitPrice  float64            `db:"exit_price"`
	ExitTime   *time.Time         `db:"exit_time"`
	Ambiguous  bool               `db:"ambiguous"`

	HitStop      bool       `db:"hit_stop"`
	HitTarget1   bool       `db:"hit_target1"`
	HitTarget2   bool       `db:"hit_target2"`
	StopHitAt    *time.Time `db:"stop_hit_at"`
	Target1HitAt *time.Time `db:"target1_hit_at"`
	Target2HitAt *time.Time `db:"target2_hit_at"`

	MaxHigh   float64 `db:"max_high"`
	MinLow    float64 `db:"min_low"`
	LastClose float64 `db:"last_close"`

	ReturnPct    float64 `db:"return_pct"`
	RiskMultiple float64 `db:"risk_multiple"` // continuous, from actual exit price
	RealizedRisk float64 `db:"realized_risk"` // discrete -1/+1/+2/0 score
	MFE          float64 `db:"mfe_r"`
	MAE          float64 `db:"mae_r"`
	BarsToExit   int     `db:"bars_to_exit"`

	CompletionReason string `db:"completion_reason"`
	FailureDriver    string `db:"failure_driver"`
	Retryable        bool   `db:"retryable"`
	ResolveVersion   string `db:"resolve_version"`

	// DebugSnapshot is an opaque serialized payload for observability; its
	// schema is not part of the resolution state machine. AuditPrev holds
	// the pre-reset row snapshot written by the version gate.
	DebugSnapshot []byte `db:"debug_snapshot"`
	AuditPrev     []byte `db:"audit_prev"`

	ComputedAt  *time.Time `db:"computed_at"`
	AttemptedAt time.Time  `db:"attempted_at"`
	ResolvedAt  *time.Time `db:"resolved_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// OutcomeSkip marks a (signal, horizon) pair explicitly excluded from future
// resolution. Created only by explicit deletion; never updated.
type OutcomeSkip struct {
	SignalID   string    `db:"signal_id"`
	HorizonMin int       `db:"horizon_min"`
	Reason     string    `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
}

// IntegrityViolation reports one dataset-wide invariant broken by a resolved
// row
type IntegrityViolation struct {
	SignalID   string
	HorizonMin int
	Rule       string
	Detail     string
}

// CandidateQuery selects due (signal, horizon) pairs for one horizon
type CandidateQuery struct {
	HorizonMin    int
	Grace         time.Duration
	Categories    []string
	RetryCooldown time.Duration
	Limit         int
	Now           time.Time
}

// SignalsRepo provides read access to detector-owned signals plus the
// inserts used by seeding and tests
type SignalsRepo interface {
	// Insert adds a signal record; duplicate (symbol, category,
	// detected_at, config_hash) tuples are rejected
	Insert(ctx context.Context, sig Signal) error

	// GetByID returns a signal or nil when absent
	GetByID(ctx context.Context, id string) (*Signal, error)

	// DueCandidates returns signals due for resolution at the queried
	// horizon: entry old enough, tracked category, no skip marker, and an
	// outcome row that is missing, partial, stale, or retryable past its
	// cooldown
	DueCandidates(ctx context.Context, q CandidateQuery) ([]Signal, error)
}

// OutcomesRepo owns SignalOutcome rows
type OutcomesRepo interface {
	// Upsert writes the row keyed on (signal_id, horizon_min), fully
	// overwriting every field except that a partial result never clobbers
	// a previously recorded non-null computed_at
	Upsert(ctx context.Context, o *SignalOutcome) error

	// Get returns the outcome row for a pair, or nil when absent
	Get(ctx context.Context, signalID string, horizonMin int) (*SignalOutcome, error)

	// ListStaleVersion returns rows whose resolve_version differs from
	// current, for the version gate
	ListStaleVersion(ctx context.Context, current string, limit int) ([]SignalOutcome, error)

	// ResetForRecompute force-resets one stale row to partial/pending under
	// the current version, storing the prior values as an audit snapshot
	ResetForRecompute(ctx context.Context, id int64, current string, auditPrev []byte, now time.Time) error

	// IntegrityCheck asserts dataset-wide invariants over rows resolved
	// since the given time and returns violations without fixing them
	IntegrityCheck(ctx context.Context, since time.Time) ([]IntegrityViolation, error)

	// DeleteWithSkip transactionally records the skip marker and removes
	// the row so the scheduler will not silently regenerate it
	DeleteWithSkip(ctx context.Context, signalID string, horizonMin int, reason string) error

	// CountPending returns the number of unresolved rows, for health
	// reporting
	CountPending(ctx context.Context) (int64, error)
}

// Store aggregates the repositories over one backing database
type Store struct {
	Signals  SignalsRepo
	Outcomes OutcomesRepo

	closer func() error
}

// NewStore builds a Store from repository implementations
func NewStore(signals SignalsRepo, outcomes OutcomesRepo, closer func() error) *Store {
	return &Store{Signals: signals, Outcomes: outcomes, closer: closer}
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
