package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"parimutuel-escrow/internal/domain"
	"parimutuel-escrow/internal/engine"
	"parimutuel-escrow/internal/idhash"
	"parimutuel-escrow/internal/ledger"
	"parimutuel-escrow/internal/observability"
	"parimutuel-escrow/internal/oracle"
	"parimutuel-escrow/internal/storage"
	"parimutuel-escrow/internal/verification"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, args []string) error {
	fs, g := newFlagSet("serve")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	// The configured event is only a default; requests may name their own.
	var defaultEvent *domain.EventParams
	if params, err := cfg.Event.Params(); err == nil {
		defaultEvent = &params
		logger.Printf("default event %s", params)
	}

	return withEngine(ctx, cfg, func(e *engine.Engine, s *stores) error {
		a := newAPI(e, s.ledger, defaultEvent, logger)
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           a.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Printf("Starting HTTP server on %s", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		logger.Println("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Println("Shutdown complete")
		return nil
	})
}

// api serves the escrow operations as JSON over HTTP.
type api struct {
	engine       *engine.Engine
	reconciler   verification.Reconciler
	defaultEvent *domain.EventParams
	logger       *log.Logger
}

func newAPI(e *engine.Engine, store storage.LedgerStore, defaultEvent *domain.EventParams, logger *log.Logger) *api {
	return &api{
		engine:       e,
		reconciler:   verification.NewLedgerReconciler(store),
		defaultEvent: defaultEvent,
		logger:       logger,
	}
}

func (a *api) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("GET /metrics", observability.Handler())

	mux.HandleFunc("GET /status", a.handleStatus)
	mux.HandleFunc("GET /plan", a.handlePlan)
	mux.HandleFunc("GET /reconcile", a.handleReconcile)
	mux.HandleFunc("POST /lock", a.handleLock)
	mux.HandleFunc("POST /inject", a.handleInject)
	mux.HandleFunc("POST /outcome", a.handleOutcome)
	mux.HandleFunc("POST /redeem", a.handleRedeem)
	mux.HandleFunc("POST /sweep", a.handleSweep)
	return mux
}

// eventRef names an event in a request. Zero fields fall back to the
// server's default event.
type eventRef struct {
	EventID   int64  `json:"event_id"`
	EventName string `json:"event_name"`
	CutoffMs  int64  `json:"cutoff_ms"`
}

func (a *api) resolve(ref eventRef) (domain.EventParams, error) {
	var p domain.EventParams
	if a.defaultEvent != nil {
		p = *a.defaultEvent
	}
	if ref.EventID != 0 {
		p.EventID = ref.EventID
	}
	if ref.EventName != "" {
		p.EventName = ref.EventName
	}
	if ref.CutoffMs != 0 {
		p.CutoffTime = ref.CutoffMs
	}
	if err := p.Validate(); err != nil {
		return domain.EventParams{}, err
	}
	return p, nil
}

// eventFromQuery reads event_id, event_name and cutoff_ms query parameters.
func (a *api) eventFromQuery(r *http.Request) (domain.EventParams, error) {
	q := r.URL.Query()
	var ref eventRef
	ref.EventName = q.Get("event_name")
	for name, dst := range map[string]*int64{"event_id": &ref.EventID, "cutoff_ms": &ref.CutoffMs} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.EventParams{}, domain.NewError(domain.CodeInvalidInput, "malformed query parameter", map[string]any{name: v})
		}
		*dst = n
	}
	return a.resolve(ref)
}

type lockBody struct {
	eventRef
	Outcome           string `json:"outcome"`
	AdaAmount         int64  `json:"ada_amount"`
	BeadBurnAmount    int64  `json:"bead_burn_amount"`
	MintQuantity      *int64 `json:"mint_quantity"` // derived when omitted
	Owner             string `json:"owner"`
	BonusContribution int64  `json:"bonus_contribution"`
}

func (a *api) handleLock(w http.ResponseWriter, r *http.Request) {
	var body lockBody
	params, ok := a.decode(w, r, &body, &body.eventRef)
	if !ok {
		return
	}
	outcome, err := domain.ParseOutcome(body.Outcome)
	if err != nil {
		a.writeError(w, err)
		return
	}

	mint := ledger.PlanLock(body.AdaAmount, body.BeadBurnAmount)
	if body.MintQuantity != nil {
		mint = *body.MintQuantity
	}
	p, err := a.engine.LockPosition(r.Context(), params, ledger.LockRequest{
		Outcome:           outcome,
		AdaAmount:         body.AdaAmount,
		BeadBurnAmount:    body.BeadBurnAmount,
		MintQuantity:      mint,
		Owner:             body.Owner,
		BonusContribution: body.BonusContribution,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, positionJSON(p))
}

type injectBody struct {
	eventRef
	Amount int64  `json:"amount"`
	Source string `json:"source"`
}

func (a *api) handleInject(w http.ResponseWriter, r *http.Request) {
	var body injectBody
	params, ok := a.decode(w, r, &body, &body.eventRef)
	if !ok {
		return
	}
	f, err := a.engine.InjectLiquidity(r.Context(), params, body.Amount, body.Source)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"fund_id": f.FundID, "amount": f.Amount})
}

type outcomeBody struct {
	eventRef
	Outcome    string `json:"outcome"`
	Capability string `json:"capability"`
	// When both statistics are omitted they are computed from the ledger.
	TotalPotAda       *int64 `json:"total_pot_ada"`
	TotalWinningStake *int64 `json:"total_winning_stake"`
}

func (a *api) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var body outcomeBody
	params, ok := a.decode(w, r, &body, &body.eventRef)
	if !ok {
		return
	}
	outcome, err := domain.ParseOutcome(body.Outcome)
	if err != nil {
		a.writeError(w, err)
		return
	}
	c, err := oracle.DecodeCapability(idhash.ComputePotID(params), body.Capability)
	if err != nil {
		a.writeError(w, domain.NewError(domain.CodeInvalidInput, err.Error(), nil))
		return
	}

	var rec *domain.OutcomeRecord
	switch {
	case body.TotalPotAda == nil && body.TotalWinningStake == nil:
		rec, err = a.engine.SettleFromLedger(r.Context(), params, c, outcome)
	case body.TotalPotAda != nil && body.TotalWinningStake != nil:
		rec, err = a.engine.PostOutcome(r.Context(), params, c, outcome, *body.TotalPotAda, *body.TotalWinningStake)
	default:
		err = domain.NewError(domain.CodeInvalidInput, "total_pot_ada and total_winning_stake must be given together", nil)
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcomeJSON(rec))
}

type redeemBody struct {
	eventRef
	PositionID string `json:"position_id"`
	Recipient  string `json:"recipient"`
}

func (a *api) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var body redeemBody
	params, ok := a.decode(w, r, &body, &body.eventRef)
	if !ok {
		return
	}
	res, err := a.engine.Redeem(r.Context(), params, body.PositionID, body.Recipient)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transition_id":  res.TransitionID,
		"position_id":    res.PositionID,
		"recipient":      res.Recipient,
		"payout":         res.Payout,
		"max_allowed":    res.MaxAllowed,
		"change_fund_id": res.ChangeFundID,
		"attempts":       res.Attempts,
		"selection":      selectionJSON(res.Selection),
	})
}

type sweepBody struct {
	eventRef
	Treasury   string `json:"treasury"`
	Capability string `json:"capability"`
}

func (a *api) handleSweep(w http.ResponseWriter, r *http.Request) {
	var body sweepBody
	params, ok := a.decode(w, r, &body, &body.eventRef)
	if !ok {
		return
	}
	c, err := oracle.DecodeSweepCapability(idhash.ComputePotID(params), body.Treasury, body.Capability)
	if err != nil {
		a.writeError(w, domain.NewError(domain.CodeInvalidInput, err.Error(), nil))
		return
	}
	res, err := a.engine.Sweep(r.Context(), params, c, body.Treasury)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pot_id":        res.PotID,
		"treasury":      res.TreasuryTarget,
		"collected":     res.Collected,
		"fund_count":    res.FundCount,
		"total_value":   res.TotalValue,
		"marker_burned": res.MarkerBurned,
		"transition_id": res.TransitionID,
	})
}

func (a *api) handlePlan(w http.ResponseWriter, r *http.Request) {
	params, err := a.eventFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	req, err := a.engine.PlanRedemption(r.Context(), params, r.URL.Query().Get("position_id"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pot_id":       req.PotID,
		"position_id":  req.PositionID,
		"caller_stake": req.CallerStake,
		"payout":       req.PayoutAmount,
		"max_allowed":  req.MaxAllowed,
		"selection":    selectionJSON(req.Selection),
	})
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	params, err := a.eventFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	st, err := a.engine.Status(r.Context(), params)
	if err != nil {
		a.writeError(w, err)
		return
	}

	positions := make([]map[string]any, 0, len(st.Positions))
	for _, p := range st.Positions {
		pj := positionJSON(p)
		pj["redeemed"] = st.Redeemed[p.PositionID]
		positions = append(positions, pj)
	}
	stake := make(map[string]int64, len(domain.AllOutcomes))
	for _, o := range domain.AllOutcomes {
		stake[o.String()] = st.StakeByOutcome[o]
	}
	resp := map[string]any{
		"event":            params.String(),
		"pot_id":           st.PotID,
		"fund_count":       st.FundCount,
		"live_value":       st.LiveValue,
		"version":          st.Version,
		"stake_by_outcome": stake,
		"positions":        positions,
		"outcome":          nil,
	}
	if st.Outcome != nil {
		resp["outcome"] = outcomeJSON(st.Outcome)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleReconcile(w http.ResponseWriter, r *http.Request) {
	params, err := a.eventFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	result, err := a.reconciler.ReconcilePot(r.Context(), idhash.ComputePotID(params))
	if err != nil {
		a.writeError(w, err)
		return
	}
	divergences := make([]map[string]any, 0, len(result.Divergences))
	for _, d := range result.Divergences {
		divergences = append(divergences, map[string]any{
			"field":    d.Field,
			"expected": fmt.Sprint(d.Expected),
			"actual":   fmt.Sprint(d.Actual),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pot_id":        result.PotID,
		"match":         result.Match,
		"transitions":   result.Transitions,
		"live_value":    result.LiveValue,
		"total_inflow":  result.TotalInflow,
		"total_outflow": result.TotalOutflow,
		"total_payout":  result.TotalPayout,
		"redemptions":   result.Redemptions,
		"divergences":   divergences,
	})
}

// decode reads a JSON body into dst and resolves its event.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any, ref *eventRef) (domain.EventParams, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.writeError(w, domain.NewError(domain.CodeInvalidInput, "malformed request body", map[string]any{"error": err.Error()}))
		return domain.EventParams{}, false
	}
	params, err := a.resolve(*ref)
	if err != nil {
		a.writeError(w, err)
		return domain.EventParams{}, false
	}
	return params, true
}

// writeError maps domain errors to HTTP statuses; everything else is a 500.
func (a *api) writeError(w http.ResponseWriter, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		a.logger.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "INTERNAL", "message": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch derr.Code {
	case domain.CodeInvalidInput:
		status = http.StatusBadRequest
	case domain.CodeInvariantViolation, domain.CodeDeadlineViolation:
		status = http.StatusUnprocessableEntity
	case domain.CodeSettlement:
		status = http.StatusConflict
	case domain.CodeSelectionInsufficient, domain.CodeConcurrencyConflict:
		status = http.StatusServiceUnavailable
	}
	if derr.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]any{
		"code":    derr.Code,
		"reason":  derr.Reason,
		"message": derr.Message,
		"context": derr.Context,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func positionJSON(p *domain.Position) map[string]any {
	return map[string]any{
		"position_id":          p.PositionID,
		"pot_id":               p.PotID,
		"predicted_outcome":    p.PredictedOutcome.String(),
		"stake_token_name":     p.StakeTokenName,
		"stake_token_quantity": p.StakeTokenQuantity,
		"ada_contributed":      p.AdaContributed,
		"bead_burned":          p.BeadBurned,
		"owner":                p.OwnerCredential,
		"fund_id":              p.FundID,
		"locked_at":            p.LockedAt,
	}
}

func outcomeJSON(o *domain.OutcomeRecord) map[string]any {
	return map[string]any{
		"winning_outcome":     o.WinningOutcome.String(),
		"total_pot_ada":       o.TotalPotAda,
		"total_winning_stake": o.TotalWinningStake,
		"marker_fund_id":      o.MarkerFundID,
		"posted_at":           o.PostedAt,
		"burned":              o.Burned,
	}
}

func selectionJSON(sel *domain.Selection) map[string]any {
	if sel == nil {
		return nil
	}
	return map[string]any{
		"fund_ids":    sel.FundIDs(),
		"total_input": sel.TotalInput,
		"target":      sel.Target,
		"change":      sel.Change,
		"efficiency":  sel.Efficiency,
		"dust":        sel.Dust,
	}
}
