// Package core hosts the deterministic trove engine: every mutation is
// validated and applied under one write lock, assigned a global sequence,
// folded into the state-hash chain, and emitted for persistence and
// projection. Queries and hint simulations run concurrently under the read
// lock.
package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"TroveLedger/internal/event"
	"TroveLedger/internal/hint"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/state"
)

var (
	// ErrNotConfigured is returned when the engine is used before NewEngine
	// completed. Parameters are set exactly once, at construction.
	ErrNotConfigured = errors.New("engine not configured")
	// ErrNoPrice is returned for operations that need a collateral price
	// before any oracle tick arrived.
	ErrNoPrice = errors.New("no collateral price observed")
	// ErrInvalidAmount is returned for unparseable amount strings.
	ErrInvalidAmount = errors.New("invalid amount")
)

// CoreOutput is what the engine emits per applied event: the sequenced
// envelope plus the lifecycle result when the event was a trove operation.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Result   *state.OpResult
}

// Config carries the engine's construction-time parameters.
type Config struct {
	StartSequence int64
	Ratios        state.RatioConfig
	FeePolicy     state.FeePolicy // nil = no borrowing fee
	InitialPrice  *uint256.Int    // nil = wait for the first oracle tick
	DedupCapacity int             // 0 = default 1M keys
	DBChecker     DBDedupChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger

	// PersistChan receives every output with a blocking send; backpressure
	// from the persistence worker stalls the engine rather than losing
	// events. ProjectionChan is best-effort: full means dropped, the
	// projection rebuilds from the event log.
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
}

// Engine owns all in-memory trove state.
type Engine struct {
	mu         sync.RWMutex
	configured bool

	sequence int64
	hasher   *StateHasher

	ledger  *state.TroveLedger
	pool    *state.ActivePool
	ratios  *state.RatioEngine
	manager *state.TroveManager
	sorted  *hint.SortedTroves

	redemption *hint.RedemptionSimulator
	approx     *hint.ApproxSearch

	price       *uint256.Int
	priceSeq    int64
	priceSource string
	hasPrice    bool

	dedup   *DedupIndex
	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

func NewEngine(cfg Config) (*Engine, error) {
	ratios, err := state.NewRatioEngine(cfg.Ratios)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	ledger := state.NewTroveLedger()
	pool := state.NewActivePool()
	sorted := hint.NewSortedTroves()

	opts := []state.ManagerOption{state.WithOrderedIndex(sorted)}
	if cfg.FeePolicy != nil {
		opts = append(opts, state.WithFeePolicy(cfg.FeePolicy))
	}
	manager := state.NewTroveManager(ledger, pool, ratios, opts...)

	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	e := &Engine{
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		ledger:         ledger,
		pool:           pool,
		ratios:         ratios,
		manager:        manager,
		sorted:         sorted,
		redemption:     hint.NewRedemptionSimulator(ledger, ratios, sorted, nil),
		approx:         hint.NewApproxSearch(ledger, ratios, sorted),
		price:          new(uint256.Int),
		dedup:          NewDedupIndex(capacity, cfg.DBChecker),
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}
	if cfg.InitialPrice != nil && !cfg.InitialPrice.IsZero() {
		e.price.Set(cfg.InitialPrice)
		e.hasPrice = true
	}
	e.configured = true
	return e, nil
}

// ProcessEvent runs the full pipeline for one input event: dedup, dispatch,
// apply, hash, emit, record. Safe for concurrent callers; mutations are
// serialized by the write lock.
func (e *Engine) ProcessEvent(evt event.Event) error {
	if e == nil || !e.configured {
		return ErrNotConfigured
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()

	if e.dedup.Seen(eventType, key) {
		e.countRejected(eventType, "duplicate")
		return nil
	}

	var result *state.OpResult
	var err error

	switch ev := evt.(type) {
	case *event.TroveOpen:
		result, err = e.handleOpen(ev)
	case *event.TroveAdjust:
		result, err = e.handleAdjust(ev)
	case *event.TroveClose:
		result, err = e.handleClose(ev)
	case *event.CollPriceUpdate:
		applied, perr := e.handlePrice(ev)
		if perr != nil {
			err = perr
		} else if !applied {
			// Out-of-order oracle tick: drop without an envelope. The
			// dedup record still prevents reprocessing on redelivery.
			e.dedup.Record(eventType, key)
			e.countRejected(eventType, "stale_sequence")
			return nil
		}
	default:
		return fmt.Errorf("engine: unknown event type %T", evt)
	}

	if err != nil {
		e.countRejected(eventType, "invalid")
		return err
	}

	digest := e.stateDigest()
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	env := &event.EventEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: key,
		EventType:      evt.EventType(),
		Timestamp:      eventTimestamp(evt),
		SourceSequence: evt.SourceSequence(),
		Payload:        evt,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	out := CoreOutput{Envelope: env, Result: result}
	e.sequence++

	// Blocking send: the engine stalls rather than losing an event.
	if e.persistChan != nil {
		e.persistChan <- out
	}
	// Best-effort send: projections catch up via rebuild.
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- out:
		default:
		}
	}

	e.dedup.Record(eventType, key)
	e.recordApplied(eventType, start)
	return nil
}

func (e *Engine) handleOpen(ev *event.TroveOpen) (*state.OpResult, error) {
	if !e.hasPrice {
		return nil, fmt.Errorf("open: %w", ErrNoPrice)
	}
	coll, err := parseAmount(ev.Coll)
	if err != nil {
		return nil, fmt.Errorf("open: coll: %w", err)
	}
	debt, err := parseAmount(ev.Debt)
	if err != nil {
		return nil, fmt.Errorf("open: debt: %w", err)
	}
	return e.manager.Open(ev.Owner, coll, debt, e.price)
}

func (e *Engine) handleAdjust(ev *event.TroveAdjust) (*state.OpResult, error) {
	if !e.hasPrice {
		return nil, fmt.Errorf("adjust: %w", ErrNoPrice)
	}
	collChange, err := parseAmount(ev.CollChange)
	if err != nil {
		return nil, fmt.Errorf("adjust: coll change: %w", err)
	}
	debtChange, err := parseAmount(ev.DebtChange)
	if err != nil {
		return nil, fmt.Errorf("adjust: debt change: %w", err)
	}
	return e.manager.Adjust(ev.Owner, state.Adjustment{
		CollChange:   collChange,
		CollIncrease: ev.CollIncrease,
		DebtChange:   debtChange,
		DebtIncrease: ev.DebtIncrease,
	}, e.price)
}

func (e *Engine) handleClose(ev *event.TroveClose) (*state.OpResult, error) {
	// Close validates the remaining system ratio, so it needs a price too.
	if !e.hasPrice {
		return nil, fmt.Errorf("close: %w", ErrNoPrice)
	}
	return e.manager.Close(ev.Owner, e.price)
}

// handlePrice applies an oracle tick. Returns false for stale sequences,
// which are tolerated and dropped.
func (e *Engine) handlePrice(ev *event.CollPriceUpdate) (bool, error) {
	price, err := parseAmount(ev.Price)
	if err != nil {
		return false, fmt.Errorf("price update: %w", err)
	}
	if price.IsZero() {
		return false, fmt.Errorf("price update: zero price: %w", ErrInvalidAmount)
	}
	if e.hasPrice && ev.PriceSequence <= e.priceSeq {
		return false, nil
	}

	e.price.Set(price)
	e.priceSeq = ev.PriceSequence
	e.priceSource = ev.Source
	e.hasPrice = true

	if e.metrics != nil {
		e.metrics.CollPrice.Set(wadFloat(price))
	}
	return true, nil
}

// stateDigest builds the canonical byte encoding of all engine state that
// participates in the hash chain.
func (e *Engine) stateDigest() []byte {
	ledgerDigest := e.ledger.CanonicalDigest()

	buf := make([]byte, 0, 32+32*3+8)
	buf = append(buf, ledgerDigest[:]...)
	poolColl := e.pool.Coll().Bytes32()
	buf = append(buf, poolColl[:]...)
	poolDebt := e.pool.Debt().Bytes32()
	buf = append(buf, poolDebt[:]...)
	price := e.price.Bytes32()
	buf = append(buf, price[:]...)
	buf = append(buf,
		byte(e.priceSeq), byte(e.priceSeq>>8), byte(e.priceSeq>>16), byte(e.priceSeq>>24),
		byte(e.priceSeq>>32), byte(e.priceSeq>>40), byte(e.priceSeq>>48), byte(e.priceSeq>>56),
	)
	return buf
}

// eventTimestamp extracts the versioned input timestamp. The engine never
// reads the wall clock; replay must produce identical envelopes.
func eventTimestamp(evt event.Event) time.Time {
	switch ev := evt.(type) {
	case *event.TroveOpen:
		return ev.Timestamp
	case *event.TroveAdjust:
		return ev.Timestamp
	case *event.TroveClose:
		return ev.Timestamp
	case *event.CollPriceUpdate:
		return ev.Timestamp
	default:
		panic(fmt.Sprintf("eventTimestamp: unhandled event type %T", evt))
	}
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", s, ErrInvalidAmount)
	}
	return v, nil
}

func (e *Engine) countRejected(eventType, reason string) {
	if e.metrics != nil {
		e.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (e *Engine) recordApplied(eventType string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
	e.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	e.metrics.CoreSequence.Set(float64(e.sequence))
	e.metrics.TroveCount.Set(float64(e.ledger.Count()))
	e.metrics.TotalColl.Set(wadFloat(e.pool.Coll()))
	e.metrics.TotalDebt.Set(wadFloat(e.pool.Debt()))
	if e.hasPrice && !e.pool.Debt().IsZero() {
		e.metrics.SystemTCR.Set(wadFloat(e.ratios.TCR(e.pool.Coll(), e.pool.Debt(), e.price)))
	}
}

// wadFloat converts a WAD value to a float64 for gauges. Lossy above 2^53,
// which is fine for observability.
func wadFloat(v *uint256.Int) float64 {
	whole := new(uint256.Int).Div(v, fpmath.Wad)
	frac := new(uint256.Int).Mod(v, fpmath.Wad)
	return float64(whole.Uint64()) + float64(frac.Uint64())/1e18
}

// ============================================================
// Queries (concurrent, read lock)
// ============================================================

// GetTrove returns a copy of the owner's trove record.
func (e *Engine) GetTrove(owner uuid.UUID) (*state.Trove, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t := e.ledger.Get(owner)
	if t == nil {
		return nil, false
	}
	return copyTrove(t), true
}

// ListTroves returns copies of all active troves in owner-array order.
func (e *Engine) ListTroves() []*state.Trove {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*state.Trove, 0, e.ledger.Count())
	for i := 0; i < e.ledger.Count(); i++ {
		out = append(out, copyTrove(e.ledger.Get(e.ledger.OwnerAt(i))))
	}
	return out
}

// NominalCROf returns the nominal ratio of an active trove.
func (e *Engine) NominalCROf(owner uuid.UUID) (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.ledger.StatusOf(owner) != state.StatusActive {
		return nil, fmt.Errorf("nominal ratio: %s: %w", owner, state.ErrTroveNotActive)
	}
	return e.ratios.NominalCR(e.ledger.CollOf(owner), e.ledger.DebtOf(owner)), nil
}

// SystemStatus is a consistent snapshot of the system aggregates.
type SystemStatus struct {
	Sequence      int64
	StateHash     [32]byte
	TroveCount    int
	TotalColl     *uint256.Int
	TotalDebt     *uint256.Int
	Price         *uint256.Int
	PriceSequence int64
	HasPrice      bool
	TCR           *uint256.Int // MaxRatio when there is no debt
}

func (e *Engine) SystemStatus() *SystemStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := &SystemStatus{
		Sequence:      e.sequence,
		StateHash:     e.hasher.GetPrevHash(),
		TroveCount:    e.ledger.Count(),
		TotalColl:     e.pool.Coll(),
		TotalDebt:     e.pool.Debt(),
		Price:         new(uint256.Int).Set(e.price),
		PriceSequence: e.priceSeq,
		HasPrice:      e.hasPrice,
		TCR:           new(uint256.Int).Set(fpmath.MaxRatio),
	}
	if e.hasPrice {
		s.TCR = e.ratios.TCR(s.TotalColl, s.TotalDebt, e.price)
	}
	return s
}

// RedemptionHints simulates a redemption of amount at the current price.
func (e *Engine) RedemptionHints(amount *uint256.Int, maxIterations uint64) (*hint.RedemptionHints, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.hasPrice {
		return nil, fmt.Errorf("redemption hints: %w", ErrNoPrice)
	}
	return e.redemption.Hints(amount, e.price, maxIterations)
}

// ApproxHint runs the randomized nearest-ratio search.
func (e *Engine) ApproxHint(targetNICR *uint256.Int, numTrials, seed uint64) *hint.ApproxHint {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.approx.FindHint(targetNICR, numTrials, seed)
}

// Sequence returns the next sequence to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// AttachDedupChecker installs the event-log dedup lookup. Call after replay:
// replaying with the checker attached would flag every logged event as a
// duplicate and skip it.
func (e *Engine) AttachDedupChecker(c DBDedupChecker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dedup.SetDBChecker(c)
}

// StateHash returns the chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.GetPrevHash()
}

func copyTrove(t *state.Trove) *state.Trove {
	return &state.Trove{
		Owner:      t.Owner,
		Debt:       new(uint256.Int).Set(t.Debt),
		Coll:       new(uint256.Int).Set(t.Coll),
		Status:     t.Status,
		ArrayIndex: t.ArrayIndex,
	}
}

// ============================================================
// Snapshots
// ============================================================

// TroveSnap is a serializable trove record. Amounts are decimal strings.
type TroveSnap struct {
	Owner  uuid.UUID `json:"owner"`
	Debt   string    `json:"debt"`
	Coll   string    `json:"coll"`
	Status int32     `json:"status"`
}

// SnapshotState is the full in-memory engine state at a sequence.
type SnapshotState struct {
	Sequence        int64      `json:"sequence"`
	StateHash       [32]byte   `json:"-"`
	Active          []TroveSnap `json:"active"` // owner-array order
	Closed          []TroveSnap `json:"closed"`
	PoolColl        string     `json:"pool_coll"`
	PoolDebt        string     `json:"pool_debt"`
	Price           string     `json:"price"`
	PriceSequence   int64      `json:"price_sequence"`
	HasPrice        bool       `json:"has_price"`
	IdempotencyKeys []string   `json:"idempotency_keys"`
}

// CreateSnapshotState captures the engine state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.hasher.GetPrevHash(),
		PoolColl:        e.pool.Coll().Dec(),
		PoolDebt:        e.pool.Debt().Dec(),
		Price:           e.price.Dec(),
		PriceSequence:   e.priceSeq,
		HasPrice:        e.hasPrice,
		IdempotencyKeys: e.dedup.Keys(),
	}
	for i := 0; i < e.ledger.Count(); i++ {
		t := e.ledger.Get(e.ledger.OwnerAt(i))
		snap.Active = append(snap.Active, TroveSnap{
			Owner:  t.Owner,
			Debt:   t.Debt.Dec(),
			Coll:   t.Coll.Dec(),
			Status: int32(t.Status),
		})
	}
	for _, t := range e.ledger.ClosedRecords() {
		snap.Closed = append(snap.Closed, TroveSnap{
			Owner:  t.Owner,
			Status: int32(t.Status),
		})
	}
	return snap
}

// RestoreFromSnapshot rebuilds engine state. Events from snap.Sequence+1
// onward must be replayed afterwards.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	if e == nil || !e.configured {
		return ErrNotConfigured
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	sumColl := new(uint256.Int)
	sumDebt := new(uint256.Int)
	for _, ts := range snap.Active {
		debt, err := parseAmount(ts.Debt)
		if err != nil {
			return fmt.Errorf("restore: trove %s: %w", ts.Owner, err)
		}
		coll, err := parseAmount(ts.Coll)
		if err != nil {
			return fmt.Errorf("restore: trove %s: %w", ts.Owner, err)
		}
		if _, err := e.ledger.Insert(ts.Owner, debt, coll); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		e.sorted.Insert(ts.Owner, e.ratios.NominalCR(coll, debt))
		sumColl.Add(sumColl, coll)
		sumDebt.Add(sumDebt, debt)
	}
	for _, ts := range snap.Closed {
		if err := e.ledger.RestoreClosed(ts.Owner, state.Status(ts.Status)); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}

	poolColl, err := parseAmount(snap.PoolColl)
	if err != nil {
		return fmt.Errorf("restore: pool coll: %w", err)
	}
	poolDebt, err := parseAmount(snap.PoolDebt)
	if err != nil {
		return fmt.Errorf("restore: pool debt: %w", err)
	}
	// The pool must equal the ledger sum or the snapshot is corrupt.
	if sumColl.Cmp(poolColl) != 0 || sumDebt.Cmp(poolDebt) != 0 {
		return fmt.Errorf("restore: pool totals diverge from ledger sum (coll %s vs %s, debt %s vs %s)",
			poolColl.Dec(), sumColl.Dec(), poolDebt.Dec(), sumDebt.Dec())
	}
	e.pool.Restore(poolColl, poolDebt)

	price, err := parseAmount(snap.Price)
	if err != nil {
		return fmt.Errorf("restore: price: %w", err)
	}
	e.price.Set(price)
	e.priceSeq = snap.PriceSequence
	e.hasPrice = snap.HasPrice

	e.sequence = snap.Sequence + 1
	e.hasher.SetPrevHash(snap.StateHash)
	e.dedup.Warm(snap.IdempotencyKeys)
	return nil
}
