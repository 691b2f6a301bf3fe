package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradelab/outcomes/internal/market"
	"github.com/tradelab/outcomes/internal/outcome"
	"github.com/tradelab/outcomes/internal/persistence"
	"github.com/tradelab/outcomes/internal/resolver"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubSource struct{}

func (stubSource) Candles(context.Context, string, time.Duration, time.Time, int) ([]market.Candle, error) {
	return nil, nil
}

// stubSignals serves canned candidates and can block to simulate a slow pass
type stubSignals struct {
	signals []persistence.Signal
	block   chan struct{}
}

func (s *stubSignals) Insert(context.Context, persistence.Signal) error { return nil }

func (s *stubSignals) GetByID(context.Context, string) (*persistence.Signal, error) {
	return nil, nil
}

func (s *stubSignals) DueCandidates(context.Context, persistence.CandidateQuery) ([]persistence.Signal, error) {
	if s.block != nil {
		<-s.block
	}
	return s.signals, nil
}

// memOutcomes is a minimal in-memory OutcomesRepo
type memOutcomes struct {
	mu   sync.Mutex
	rows map[int64]*persistence.SignalOutcome
	next int64
}

func newMemOutcomes() *memOutcomes {
	return &memOutcomes{rows: make(map[int64]*persistence.SignalOutcome)}
}

func (m *memOutcomes) put(row persistence.SignalOutcome) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	row.ID = m.next
	m.rows[row.ID] = &row
	return row.ID
}

func (m *memOutcomes) Upsert(_ context.Context, o *persistence.SignalOutcome) error {
	m.put(*o)
	return nil
}

func (m *memOutcomes) Get(context.Context, string, int) (*persistence.SignalOutcome, error) {
	return nil, nil
}

func (m *memOutcomes) ListStaleVersion(_ context.Context, current string, limit int) ([]persistence.SignalOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []persistence.SignalOutcome
	for _, row := range m.rows {
		if row.ResolveVersion != current && len(out) < limit {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (m *memOutcomes) ResetForRecompute(_ context.Context, id int64, current string, auditPrev []byte, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("outcome %d not found", id)
	}
	row.WindowStatus = outcome.WindowPartial
	row.OutcomeState = outcome.StatePending
	row.TradeState = outcome.TradePending
	row.Retryable = true
	row.CompletionReason = outcome.ReasonStaleReset
	row.ResolveVersion = current
	row.AuditPrev = auditPrev
	row.ResolvedAt = nil
	row.UpdatedAt = now
	return nil
}

func (m *memOutcomes) IntegrityCheck(context.Context, time.Time) ([]persistence.IntegrityViolation, error) {
	return nil, nil
}

func (m *memOutcomes) DeleteWithSkip(context.Context, string, int, string) error { return nil }

func (m *memOutcomes) CountPending(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.ResolvedAt == nil {
			n++
		}
	}
	return n, nil
}

func testScheduler(signals persistence.SignalsRepo, outcomes persistence.OutcomesRepo) *Scheduler {
	store := persistence.NewStore(signals, outcomes, nil)
	cfg := Config{
		HorizonsMin: []int{60, 15},
		Categories:  []string{"ready-to-buy"},
		Grace:       10 * time.Minute,
		BatchSize:   50,
	}
	rcfg := resolver.Config{
		IntervalMin:    5,
		GraceMin:       10,
		BufferCandles:  3,
		MinCoveragePct: 95,
		Version:        "r3",
	}
	now := time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)
	return New(store, stubSource{}, cfg, rcfg, fixedClock{now})
}

func TestRunOnceRefusesOverlap(t *testing.T) {
	block := make(chan struct{})
	signals := &stubSignals{block: block}
	s := testScheduler(signals, newMemOutcomes())

	done := make(chan error, 1)
	go func() { done <- s.RunOnce(context.Background()) }()

	// Wait for the first pass to take the running flag inside the blocked
	// candidate query.
	require.Eventually(t, func() bool { return s.Health().Running },
		time.Second, 5*time.Millisecond)

	err := s.RunOnce(context.Background())
	assert.Error(t, err, "a second pass must be refused while one is in flight")

	close(block)
	require.NoError(t, <-done)
	assert.False(t, s.Health().Running)
}

func TestRunOnceSortsHorizonsAscending(t *testing.T) {
	s := testScheduler(&stubSignals{}, newMemOutcomes())
	assert.Equal(t, []int{15, 60}, s.cfg.HorizonsMin,
		"the base horizon must resolve before horizons that settle from it")
}

func TestRunOnceUpdatesHealth(t *testing.T) {
	s := testScheduler(&stubSignals{}, newMemOutcomes())

	require.NoError(t, s.RunOnce(context.Background()))

	h := s.Health()
	assert.Equal(t, int64(1), h.PassCount)
	require.NotNil(t, h.LastPassAt)
	assert.Equal(t, 0, h.LastPassResolved)
	assert.Equal(t, 0, h.LastPassErrors)
}

func TestVersionGateResetsOnlyStaleRows(t *testing.T) {
	outcomes := newMemOutcomes()
	resolved := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	staleID := outcomes.put(persistence.SignalOutcome{
		SignalID:       "sig-old",
		HorizonMin:     15,
		WindowStatus:   outcome.WindowComplete,
		OutcomeState:   outcome.StateHitTarget2,
		TradeState:     outcome.TradeTarget2,
		ResolveVersion: "r2",
		ResolvedAt:     &resolved,
	})
	currentID := outcomes.put(persistence.SignalOutcome{
		SignalID:       "sig-new",
		HorizonMin:     15,
		WindowStatus:   outcome.WindowComplete,
		OutcomeState:   outcome.StateHitStop,
		TradeState:     outcome.TradeFailedStop,
		ResolveVersion: "r3",
		ResolvedAt:     &resolved,
	})

	s := testScheduler(&stubSignals{}, outcomes)
	require.NoError(t, s.ApplyVersionGate(context.Background()))

	stale := outcomes.rows[staleID]
	assert.Equal(t, outcome.StatePending, stale.OutcomeState)
	assert.Equal(t, "r3", stale.ResolveVersion)
	assert.Equal(t, outcome.ReasonStaleReset, stale.CompletionReason)
	assert.Nil(t, stale.ResolvedAt)
	assert.NotEmpty(t, stale.AuditPrev, "the prior row must be kept as an audit snapshot")

	current := outcomes.rows[currentID]
	assert.Equal(t, outcome.StateHitStop, current.OutcomeState)
	assert.NotNil(t, current.ResolvedAt)
	assert.Empty(t, current.AuditPrev)
}

func TestVersionGateIsIdempotent(t *testing.T) {
	outcomes := newMemOutcomes()
	outcomes.put(persistence.SignalOutcome{
		SignalID:       "sig-old",
		HorizonMin:     15,
		ResolveVersion: "r2",
	})

	s := testScheduler(&stubSignals{}, outcomes)
	require.NoError(t, s.ApplyVersionGate(context.Background()))
	require.NoError(t, s.ApplyVersionGate(context.Background()))

	for _, row := range outcomes.rows {
		assert.Equal(t, "r3", row.ResolveVersion)
	}
}
