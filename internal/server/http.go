package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/query"
	"TroveLedger/internal/state"
)

// HTTPServer serves the trove API: lifecycle submissions go through the
// engine, live reads come from the engine's in-memory state, and history
// comes from the projections.
type HTTPServer struct {
	engine  *core.Engine
	query   *query.QueryService
	health  *observability.HealthChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
	srv     *http.Server
}

func NewHTTPServer(
	addr string,
	engine *core.Engine,
	qs *query.QueryService,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		engine:  engine,
		query:   qs,
		health:  health,
		metrics: metrics,
		logger:  logger,
	}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	return s
}

func (s *HTTPServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.timing)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/troves", func(r chi.Router) {
			r.Get("/", s.handleListTroves)
			r.Route("/{owner}", func(r chi.Router) {
				r.Get("/", s.handleGetTrove)
				r.Get("/history", s.handleTroveHistory)
				r.Post("/open", s.handleOpen)
				r.Post("/adjust", s.handleAdjust)
				r.Post("/close", s.handleClose)
			})
		})
		r.Get("/system", s.handleSystem)
		r.Get("/system/projected", s.handleSystemProjected)
		r.Route("/hints", func(r chi.Router) {
			r.Get("/redemption", s.handleRedemptionHints)
			r.Get("/approx", s.handleApproxHint)
		})
		r.Get("/admin/integrity", s.handleIntegrity)
	})

	return r
}

// Run starts the HTTP server and shuts it down when ctx is cancelled.
func (s *HTTPServer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- lifecycle submissions ---

type openRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Coll      string `json:"coll"`
	Debt      string `json:"debt"`
}

func (s *HTTPServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "troves_open", http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	requestID, err := requestID(r, req.RequestID)
	if err != nil {
		s.writeError(w, "troves_open", http.StatusBadRequest, err)
		return
	}

	evt := &event.TroveOpen{
		RequestID: requestID,
		Owner:     owner,
		Coll:      req.Coll,
		Debt:      req.Debt,
		Timestamp: time.Now().UTC(),
	}
	s.submit(w, r, "troves_open", owner, evt)
}

type adjustRequest struct {
	RequestID    string `json:"request_id,omitempty"`
	CollChange   string `json:"coll_change"`
	CollIncrease bool   `json:"coll_increase"`
	DebtChange   string `json:"debt_change"`
	DebtIncrease bool   `json:"debt_increase"`
}

func (s *HTTPServer) handleAdjust(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "troves_adjust", http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	requestID, err := requestID(r, req.RequestID)
	if err != nil {
		s.writeError(w, "troves_adjust", http.StatusBadRequest, err)
		return
	}

	evt := &event.TroveAdjust{
		RequestID:    requestID,
		Owner:        owner,
		CollChange:   req.CollChange,
		CollIncrease: req.CollIncrease,
		DebtChange:   req.DebtChange,
		DebtIncrease: req.DebtIncrease,
		Timestamp:    time.Now().UTC(),
	}
	s.submit(w, r, "troves_adjust", owner, evt)
}

type closeRequest struct {
	RequestID string `json:"request_id,omitempty"`
}

func (s *HTTPServer) handleClose(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, "troves_close", http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
	}
	requestID, err := requestID(r, req.RequestID)
	if err != nil {
		s.writeError(w, "troves_close", http.StatusBadRequest, err)
		return
	}

	evt := &event.TroveClose{
		RequestID: requestID,
		Owner:     owner,
		Timestamp: time.Now().UTC(),
	}
	s.submit(w, r, "troves_close", owner, evt)
}

// submit runs an event through the engine and responds with the resulting
// trove state.
func (s *HTTPServer) submit(w http.ResponseWriter, r *http.Request, endpoint string, owner uuid.UUID, evt event.Event) {
	if err := s.engine.ProcessEvent(evt); err != nil {
		s.writeError(w, endpoint, statusForError(err), err)
		return
	}

	resp := map[string]interface{}{
		"accepted":   true,
		"request_id": evt.IdempotencyKey(),
	}
	if tr, ok := s.engine.GetTrove(owner); ok {
		resp["trove"] = troveJSON(tr)
	}
	s.writeJSON(w, endpoint, http.StatusOK, resp)
}

// --- live reads ---

func (s *HTTPServer) handleGetTrove(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}
	tr, found := s.engine.GetTrove(owner)
	if !found {
		s.writeError(w, "troves_get", http.StatusNotFound, fmt.Errorf("trove %s not found", owner))
		return
	}
	s.writeJSON(w, "troves_get", http.StatusOK, troveJSON(tr))
}

func (s *HTTPServer) handleListTroves(w http.ResponseWriter, r *http.Request) {
	troves := s.engine.ListTroves()
	out := make([]map[string]interface{}, 0, len(troves))
	for _, tr := range troves {
		out = append(out, troveJSON(tr))
	}
	s.writeJSON(w, "troves_list", http.StatusOK, map[string]interface{}{
		"troves":   out,
		"sequence": s.engine.Sequence(),
	})
}

func (s *HTTPServer) handleTroveHistory(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.ownerParam(w, r)
	if !ok {
		return
	}

	limit := intQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var before *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, "troves_history", http.StatusBadRequest, fmt.Errorf("before_sequence: %w", err))
			return
		}
		before = &n
	}

	history, err := s.query.GetTroveHistory(r.Context(), owner, int(limit), before)
	if err != nil {
		s.writeError(w, "troves_history", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "troves_history", http.StatusOK, map[string]interface{}{
		"history": history,
	})
}

func (s *HTTPServer) handleSystem(w http.ResponseWriter, r *http.Request) {
	st := s.engine.SystemStatus()
	resp := map[string]interface{}{
		"sequence":       st.Sequence,
		"state_hash":     hex.EncodeToString(st.StateHash[:]),
		"trove_count":    st.TroveCount,
		"total_coll":     st.TotalColl.Dec(),
		"total_debt":     st.TotalDebt.Dec(),
		"price_sequence": st.PriceSequence,
		"has_price":      st.HasPrice,
		"tcr":            st.TCR.Dec(),
	}
	if st.HasPrice {
		resp["price"] = st.Price.Dec()
	}
	s.writeJSON(w, "system", http.StatusOK, resp)
}

func (s *HTTPServer) handleSystemProjected(w http.ResponseWriter, r *http.Request) {
	sys, err := s.query.GetSystem(r.Context())
	if err != nil {
		s.writeError(w, "system_projected", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "system_projected", http.StatusOK, sys)
}

// --- hints ---

func (s *HTTPServer) handleRedemptionHints(w http.ResponseWriter, r *http.Request) {
	amount, err := amountQuery(r, "amount")
	if err != nil {
		s.writeError(w, "hints_redemption", http.StatusBadRequest, err)
		return
	}
	maxIterations := uint64(intQuery(r, "max_iterations", 0))

	start := time.Now()
	hints, err := s.engine.RedemptionHints(amount, maxIterations)
	if err != nil {
		s.countHint("redemption", "error")
		s.writeError(w, "hints_redemption", statusForError(err), err)
		return
	}
	s.countHint("redemption", "ok")
	if s.metrics != nil {
		s.metrics.HintDuration.WithLabelValues("redemption").Observe(time.Since(start).Seconds())
	}

	resp := map[string]interface{}{
		"truncated_amount": hints.TruncatedAmount.Dec(),
	}
	if hints.FirstRedemptionHint != uuid.Nil {
		resp["first_redemption_hint"] = hints.FirstRedemptionHint
	}
	if !hints.PartialRedemptionNICR.IsZero() {
		resp["partial_redemption_nicr"] = hints.PartialRedemptionNICR.Dec()
	}
	s.writeJSON(w, "hints_redemption", http.StatusOK, resp)
}

func (s *HTTPServer) handleApproxHint(w http.ResponseWriter, r *http.Request) {
	target, err := amountQuery(r, "target_nicr")
	if err != nil {
		s.writeError(w, "hints_approx", http.StatusBadRequest, err)
		return
	}
	numTrials := uint64(intQuery(r, "num_trials", 15))
	seed := uint64(intQuery(r, "seed", 0))

	start := time.Now()
	h := s.engine.ApproxHint(target, numTrials, seed)
	s.countHint("approx", "ok")
	if s.metrics != nil {
		s.metrics.HintDuration.WithLabelValues("approx").Observe(time.Since(start).Seconds())
	}

	resp := map[string]interface{}{
		"latest_seed": strconv.FormatUint(h.LatestSeed, 10),
	}
	if h.Owner != uuid.Nil {
		resp["owner"] = h.Owner
		resp["diff"] = h.Diff.Dec()
	}
	s.writeJSON(w, "hints_approx", http.StatusOK, resp)
}

// --- admin ---

func (s *HTTPServer) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.query.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "admin_integrity", http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, "admin_integrity", http.StatusOK, report)
}

// --- helpers ---

func troveJSON(tr *state.Trove) map[string]interface{} {
	return map[string]interface{}{
		"owner":  tr.Owner,
		"debt":   tr.Debt.Dec(),
		"coll":   tr.Coll.Dec(),
		"status": tr.Status.String(),
	}
}

func (s *HTTPServer) ownerParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, "troves", http.StatusBadRequest, fmt.Errorf("parse owner: %w", err))
		return uuid.Nil, false
	}
	return owner, true
}

// requestID resolves the idempotency key for a submission: the
// Idempotency-Key header wins, then the body, then a fresh UUID.
func requestID(r *http.Request, bodyID string) (uuid.UUID, error) {
	if h := r.Header.Get("Idempotency-Key"); h != "" {
		id, err := uuid.Parse(h)
		if err != nil {
			return uuid.Nil, fmt.Errorf("parse Idempotency-Key: %w", err)
		}
		return id, nil
	}
	if bodyID != "" {
		id, err := uuid.Parse(bodyID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("parse request_id: %w", err)
		}
		return id, nil
	}
	return uuid.New(), nil
}

func amountQuery(r *http.Request, name string) (*uint256.Int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	n, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

func intQuery(r *http.Request, name string, def int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrNoPrice):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrTroveNotActive):
		return http.StatusNotFound
	case errors.Is(err, state.ErrTroveAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, state.ErrRatioMismatch),
		errors.Is(err, state.ErrBelowMinimumDebt),
		errors.Is(err, state.ErrDebtCeilingExceeded),
		errors.Is(err, state.ErrOnlyOneTroveRemains),
		errors.Is(err, state.ErrNoOpAdjustment),
		errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, state.ErrInsufficientDebtToken):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, endpoint string, status int, v interface{}) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, status int, err error) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	if status >= 500 {
		s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// timing records per-route latency. The route pattern is only known after
// the handler ran, so the observation happens on the way out.
func (s *HTTPServer) timing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.metrics == nil {
			return
		}
		if pattern := chi.RouteContext(r.Context()).RoutePattern(); pattern != "" {
			s.metrics.QueryDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
		}
	})
}

func (s *HTTPServer) countHint(kind, status string) {
	if s.metrics != nil {
		s.metrics.HintRequests.WithLabelValues(kind, status).Inc()
	}
}
