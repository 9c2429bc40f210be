package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"emojiboard/core/events"
	"emojiboard/observability/metrics"
)

// UpdateResult describes a successful recomputation.
type UpdateResult struct {
	Period       int64
	RewardAmount *uint256.Int
	Balance      *uint256.Int
	Entries      int
	Cost         uint64
	Event        events.LeaderboardUpdated
}

// Gate decides when the leaderboard may be recomputed, runs the
// recomputation, and rewards the caller. All mutations are serialised by mu;
// the aggregation itself runs outside the lock while UpdateInProgress keeps
// other attempts out.
type Gate struct {
	mu sync.Mutex

	params     Params
	clock      *Clock
	aggregator *Aggregator
	issuer     *Issuer
	authority  Authority
	source     ActivitySource
	store      Store
	log        *EventLog
	emitter    events.Emitter
	logger     *slog.Logger
	telemetry  *metrics.LeaderboardMetrics
	tracer     trace.Tracer

	now          func() time.Time
	historyLimit int

	state       GateState
	entries     []Entry
	boardPeriod int64
	// attempt identifies the update that currently owns UpdateInProgress.
	// ForceReset bumps it so a stale attempt cannot commit.
	attempt uint64
}

// Option customises the gate.
type Option func(*Gate)

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithStore persists gate mutations to store.
func WithStore(store Store) Option {
	return func(g *Gate) { g.store = store }
}

// WithEmitter forwards update events to an additional sink.
func WithEmitter(emitter events.Emitter) Option {
	return func(g *Gate) { g.emitter = emitter }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithMetrics overrides the prometheus metrics; nil disables them.
func WithMetrics(m *metrics.LeaderboardMetrics) Option {
	return func(g *Gate) { g.telemetry = m }
}

// WithEventHistory bounds the number of events kept for pull queries.
func WithEventHistory(limit int) Option {
	return func(g *Gate) { g.historyLimit = limit }
}

// NewGate restores the gate from its store, or initialises it with
// LastUpdatedPeriod set to the current period when the store is empty.
func NewGate(params Params, authority Authority, source ActivitySource, opts ...Option) (*Gate, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if authority == nil {
		return nil, fmt.Errorf("leaderboard: authority required")
	}
	if source == nil {
		return nil, fmt.Errorf("leaderboard: activity source required")
	}
	g := &Gate{
		params:       params,
		authority:    authority,
		source:       source,
		store:        nopStore{},
		emitter:      events.NoopEmitter{},
		logger:       slog.Default(),
		telemetry:    metrics.Leaderboard(),
		tracer:       otel.Tracer("emojiboard/native/leaderboard"),
		now:          time.Now,
		historyLimit: defaultEventHistoryLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		g.store = nopStore{}
	}
	if g.emitter == nil {
		g.emitter = events.NoopEmitter{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	clock, err := NewClock(params.Origin, params.PeriodLength, g.now)
	if err != nil {
		return nil, err
	}
	g.clock = clock
	aggregator, err := NewAggregator(params.Aggregation)
	if err != nil {
		return nil, err
	}
	g.aggregator = aggregator
	g.log = NewEventLog(g.historyLimit)

	snapshot, err := g.store.Load(g.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: load state: %w", err)
	}
	if snapshot == nil {
		g.state = GateState{LastUpdatedPeriod: clock.CurrentPeriod()}
		g.issuer = NewIssuer(params.InitialSupply, nil)
		if err := g.store.Commit(Change{State: g.state, Supply: g.issuer.Supply()}); err != nil {
			return nil, fmt.Errorf("leaderboard: persist initial state: %w", err)
		}
		g.logger.Info("leaderboard gate initialised",
			slog.Int64("period", g.state.LastUpdatedPeriod),
			slog.String("supply", g.issuer.Supply().Dec()))
	} else {
		g.state = snapshot.State
		g.entries = append([]Entry(nil), snapshot.Entries...)
		g.boardPeriod = snapshot.BoardPeriod
		g.issuer = NewIssuer(snapshot.Supply, snapshot.Balances)
		g.log.restore(snapshot.Events)
		if g.state.UpdateInProgress {
			g.logger.Warn("leaderboard gate restored with an interrupted update; force reset required",
				slog.Int64("lastUpdatedPeriod", g.state.LastUpdatedPeriod))
		}
	}
	g.publishGaugesLocked()
	return g, nil
}

// Clock exposes the period clock.
func (g *Gate) Clock() *Clock { return g.clock }

// Events exposes the update event log for subscriptions.
func (g *Gate) Events() *EventLog { return g.log }

// CurrentDay returns the current period index.
func (g *Gate) CurrentDay() int64 { return g.clock.CurrentPeriod() }

// LastUpdateDay returns the period of the last successful update or override.
func (g *Gate) LastUpdateDay() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.LastUpdatedPeriod
}

// LastUpdateTime returns when the last successful update committed. The zero
// time means no update has run yet.
func (g *Gate) LastUpdateTime() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.LastUpdateTime == 0 {
		return time.Time{}
	}
	return time.Unix(g.state.LastUpdateTime, 0).UTC()
}

// State returns a copy of the gate state.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CanUpdate reports whether UpdateLeaderboard would be accepted now.
func (g *Gate) CanUpdate() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.eligible(g.clock.CurrentPeriod())
}

// Leaderboard returns the current ranked board.
func (g *Gate) Leaderboard() []RankedEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Rank(g.entries)
}

// LeaderboardPeriod returns the period in which the current board was
// computed. Admin overrides move LastUpdateDay but not this value.
func (g *Gate) LeaderboardPeriod() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boardPeriod
}

// BalanceOf returns the cumulative reward credited to addr.
func (g *Gate) BalanceOf(addr common.Address) *uint256.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issuer.BalanceOf(addr)
}

// Supply returns the remaining reward pool.
func (g *Gate) Supply() *uint256.Int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issuer.Supply()
}

// RecentEvents returns events from the last periods periods, newest first.
// periods <= 0 returns every retained event.
func (g *Gate) RecentEvents(periods int64, limit int) []events.LeaderboardUpdated {
	since := int64(math.MinInt64)
	if periods > 0 {
		since = g.clock.CurrentPeriod() - periods + 1
	}
	return g.log.Recent(since, limit)
}

// UpdateLeaderboard recomputes the board on behalf of caller. ceiling bounds
// the aggregation cost; zero selects the configured default.
func (g *Gate) UpdateLeaderboard(ctx context.Context, caller common.Address, ceiling uint64) (*UpdateResult, error) {
	ctx, span := g.tracer.Start(ctx, "leaderboard.update", trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
	))
	defer span.End()

	result, err := g.update(ctx, caller, ceiling)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.telemetry.ObserveUpdate(outcomeOf(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int64("period", result.Period), attribute.Int64("cost", int64(result.Cost)))
	g.telemetry.ObserveUpdate("success")
	return result, nil
}

func (g *Gate) update(ctx context.Context, caller common.Address, ceiling uint64) (*UpdateResult, error) {
	if caller == (common.Address{}) {
		return nil, fmt.Errorf("leaderboard: caller required")
	}
	if ceiling == 0 {
		ceiling = g.params.DefaultCeiling
	}

	g.mu.Lock()
	current := g.clock.CurrentPeriod()
	if !g.state.eligible(current) {
		state := g.state
		g.mu.Unlock()
		if state.UpdateInProgress {
			return nil, fmt.Errorf("%w: update in progress", ErrNotEligible)
		}
		return nil, fmt.Errorf("%w: period %d already updated (current %d)", ErrNotEligible, state.LastUpdatedPeriod, current)
	}
	locked := g.state
	locked.UpdateInProgress = true
	if err := g.store.Commit(Change{State: locked}); err != nil {
		g.mu.Unlock()
		return nil, fmt.Errorf("leaderboard: persist update lock: %w", err)
	}
	g.attempt++
	attempt := g.attempt
	g.state = locked
	g.publishGaugesLocked()
	g.mu.Unlock()

	entries, cost, aggErr := g.aggregate(ctx, current, ceiling)

	g.mu.Lock()
	defer g.mu.Unlock()
	if attempt != g.attempt {
		g.logger.Warn("leaderboard update discarded after reset", slog.String("caller", caller.Hex()))
		return nil, ErrUpdateSuperseded
	}
	if aggErr != nil {
		g.releaseLocked()
		g.logger.Warn("leaderboard aggregation failed",
			slog.String("caller", caller.Hex()),
			slog.Uint64("ceiling", ceiling),
			slog.Any("error", aggErr))
		return nil, fmt.Errorf("%w: %w", ErrAggregationFailed, aggErr)
	}

	reward := g.params.RewardAmount
	balance, supply, err := g.issuer.preview(caller, reward)
	if err != nil {
		g.releaseLocked()
		g.logger.Error("leaderboard reward unavailable; update abandoned",
			slog.String("caller", caller.Hex()),
			slog.Any("error", err))
		return nil, err
	}

	now := g.clock.Now()
	period := g.clock.PeriodAt(now)
	next := GateState{LastUpdatedPeriod: period, LastUpdateTime: now.Unix()}
	evt := events.LeaderboardUpdated{
		Sequence:     g.log.nextSequence(),
		Updater:      caller,
		Period:       period,
		Timestamp:    now.Unix(),
		RewardAmount: reward.Clone(),
		Entries:      uint64(len(entries)),
		Digest:       Digest(entries),
	}
	change := Change{
		State:          next,
		ReplaceEntries: true,
		BoardPeriod:    period,
		Entries:        entries,
		Balance:        &BalanceChange{Address: caller, Balance: balance},
		Supply:         supply,
		Event:          &evt,
	}
	if err := g.store.Commit(change); err != nil {
		g.releaseLocked()
		return nil, fmt.Errorf("leaderboard: persist update: %w", err)
	}

	g.state = next
	g.entries = entries
	g.boardPeriod = period
	g.issuer.apply(caller, balance, supply)
	g.log.publish(evt)
	g.emitter.Emit(evt.Clone())

	g.telemetry.ObserveAggregation(cost, len(entries))
	g.telemetry.AddReward(tokens(reward))
	g.publishGaugesLocked()
	g.logger.Info("leaderboard updated",
		slog.String("caller", caller.Hex()),
		slog.Int64("period", period),
		slog.Int("entries", len(entries)),
		slog.Uint64("cost", cost),
		slog.String("reward", reward.Dec()))

	return &UpdateResult{
		Period:       period,
		RewardAmount: reward.Clone(),
		Balance:      balance.Clone(),
		Entries:      len(entries),
		Cost:         cost,
		Event:        evt.Clone(),
	}, nil
}

// aggregate fetches activity and runs the aggregator. Panics are converted to
// errors so the in-progress flag is always released.
func (g *Gate) aggregate(ctx context.Context, current int64, ceiling uint64) (entries []Entry, cost uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("aggregation panicked: %v", r)
		}
	}()
	window := Window{To: g.clock.Now()}
	if g.params.WindowPeriods > 0 {
		window.From = g.clock.PeriodStart(current - g.params.WindowPeriods + 1)
	}
	records, err := g.source.Activity(ctx, window)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch activity: %w", err)
	}
	return g.aggregator.Compute(records, ceiling)
}

// releaseLocked clears the in-progress flag after a failed attempt without
// advancing LastUpdatedPeriod. The in-memory flag is cleared even when the
// store rejects the write.
func (g *Gate) releaseLocked() {
	released := g.state
	released.UpdateInProgress = false
	if err := g.store.Commit(Change{State: released}); err != nil {
		g.logger.Error("leaderboard: persist gate release failed", slog.Any("error", err))
	}
	g.state = released
	g.publishGaugesLocked()
}

// ForceUpdateDay opens the gate by rewinding LastUpdatedPeriod to the period
// before the current one. No aggregation runs and no reward is issued. An
// in-flight update keeps its lock.
func (g *Gate) ForceUpdateDay(caller common.Address) error {
	if !g.authority.IsAdmin(caller) {
		g.telemetry.ObserveAdmin("force_update_day", "unauthorized")
		return fmt.Errorf("%w: %s cannot force the update day", ErrNotAuthorized, caller.Hex())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.state
	next.LastUpdatedPeriod = g.clock.CurrentPeriod() - 1
	next.Forced = true
	if err := g.store.Commit(Change{State: next}); err != nil {
		g.telemetry.ObserveAdmin("force_update_day", "error")
		return fmt.Errorf("leaderboard: persist forced day: %w", err)
	}
	previous := g.state.LastUpdatedPeriod
	g.state = next
	g.publishGaugesLocked()
	g.telemetry.ObserveAdmin("force_update_day", "success")
	g.logger.Info("leaderboard update day forced",
		slog.String("admin", caller.Hex()),
		slog.Int64("previous", previous),
		slog.Int64("lastUpdatedPeriod", next.LastUpdatedPeriod))
	return nil
}

// ForceReset clears the in-progress flag and the forced marker and rewinds
// LastUpdatedPeriod to the period before the current one, so CanUpdate is
// true afterwards whatever the prior state. Any in-flight update is
// superseded. The reset is applied in memory even if persisting it fails;
// the persistence error is still returned.
func (g *Gate) ForceReset(caller common.Address) error {
	if !g.authority.IsAdmin(caller) {
		g.telemetry.ObserveAdmin("force_reset", "unauthorized")
		return fmt.Errorf("%w: %s cannot reset the gate", ErrNotAuthorized, caller.Hex())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	previous := g.state
	next := GateState{
		LastUpdatedPeriod: g.clock.CurrentPeriod() - 1,
		LastUpdateTime:    previous.LastUpdateTime,
	}
	g.attempt++
	g.state = next
	g.publishGaugesLocked()
	if err := g.store.Commit(Change{State: next}); err != nil {
		g.telemetry.ObserveAdmin("force_reset", "error")
		g.logger.Error("leaderboard: persist reset failed", slog.Any("error", err))
		return fmt.Errorf("leaderboard: persist reset: %w", err)
	}
	g.telemetry.ObserveAdmin("force_reset", "success")
	g.logger.Info("leaderboard gate reset",
		slog.String("admin", caller.Hex()),
		slog.Bool("wasInProgress", previous.UpdateInProgress),
		slog.Int64("previous", previous.LastUpdatedPeriod),
		slog.Int64("lastUpdatedPeriod", next.LastUpdatedPeriod))
	return nil
}

// FundRewards tops up the reward pool.
func (g *Gate) FundRewards(caller common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if !g.authority.IsAdmin(caller) {
		g.telemetry.ObserveAdmin("fund", "unauthorized")
		return nil, fmt.Errorf("%w: %s cannot fund rewards", ErrNotAuthorized, caller.Hex())
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	supply, err := g.issuer.previewFund(amount)
	if err != nil {
		g.telemetry.ObserveAdmin("fund", "invalid")
		return nil, err
	}
	if err := g.store.Commit(Change{State: g.state, Supply: supply}); err != nil {
		g.telemetry.ObserveAdmin("fund", "error")
		return nil, fmt.Errorf("leaderboard: persist funding: %w", err)
	}
	g.issuer.supply.Set(supply)
	g.telemetry.SetSupply(tokens(supply))
	g.telemetry.ObserveAdmin("fund", "success")
	g.logger.Info("leaderboard reward pool funded",
		slog.String("admin", caller.Hex()),
		slog.String("amount", amount.Dec()),
		slog.String("supply", supply.Dec()))
	return supply.Clone(), nil
}

func (g *Gate) publishGaugesLocked() {
	if g.telemetry == nil {
		return
	}
	g.telemetry.SetGate(g.state.eligible(g.clock.CurrentPeriod()), g.state.UpdateInProgress, g.state.LastUpdatedPeriod)
	if g.issuer != nil {
		g.telemetry.SetSupply(tokens(g.issuer.supply))
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrResourceExceeded):
		return "resource_exceeded"
	case errors.Is(err, ErrInvalidData):
		return "invalid_data"
	case errors.Is(err, ErrAggregationFailed):
		return "aggregation_failed"
	case errors.Is(err, ErrInsufficientSupply):
		return "insufficient_supply"
	case errors.Is(err, ErrUpdateSuperseded):
		return "superseded"
	default:
		return "error"
	}
}

var tokenScale = new(big.Float).SetInt(OneToken().ToBig())

func tokens(amount *uint256.Int) float64 {
	if amount == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(amount.ToBig()), tokenScale).Float64()
	return value
}
