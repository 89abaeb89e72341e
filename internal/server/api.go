package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"PerpMarket/internal/auth"
	"PerpMarket/internal/engine"
	"PerpMarket/internal/fixedpoint"
	"PerpMarket/internal/margin"
	"PerpMarket/internal/observability"
	"PerpMarket/internal/query"
	"PerpMarket/internal/treasury"
	"PerpMarket/internal/vamm"
)

// API exposes the market over JSON. Amounts cross the wire as base-10
// wad-scaled integer strings so precision survives JSON numbers.
type API struct {
	engine  *engine.Engine
	ledger  *margin.Ledger
	tre     *treasury.Treasury
	amm     *vamm.VAMM
	history *query.Service
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewAPI(
	eng *engine.Engine,
	ledger *margin.Ledger,
	tre *treasury.Treasury,
	amm *vamm.VAMM,
	history *query.Service,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *API {
	return &API{
		engine:  eng,
		ledger:  ledger,
		tre:     tre,
		amm:     amm,
		history: history,
		metrics: metrics,
		log:     log,
	}
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, pathParams map[string]string)

// Routes builds the gateway mux with every endpoint registered.
func (a *API) Routes() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		name    string
		handler handlerFunc
	}{
		{http.MethodPost, "/v1/accounts/{account}/deposit", "deposit", a.handleDeposit},
		{http.MethodPost, "/v1/accounts/{account}/withdraw", "withdraw", a.handleWithdraw},
		{http.MethodGet, "/v1/accounts/{account}", "get_account", a.handleGetAccount},
		{http.MethodPost, "/v1/positions/open", "open_position", a.handleOpenPosition},
		{http.MethodPost, "/v1/positions/close", "close_position", a.handleClosePosition},
		{http.MethodGet, "/v1/positions/{account}", "get_position", a.handleGetPosition},
		{http.MethodGet, "/v1/positions/{account}/liquidatable", "is_liquidatable", a.handleIsLiquidatable},
		{http.MethodPost, "/v1/positions/{account}/liquidate", "liquidate", a.handleLiquidate},
		{http.MethodPost, "/v1/positions/{account}/emergency-close", "emergency_close", a.handleEmergencyClose},
		{http.MethodGet, "/v1/events", "list_events", a.handleListEvents},
		{http.MethodGet, "/v1/accounts/{account}/events", "account_events", a.handleAccountEvents},
		{http.MethodGet, "/v1/market/funding/history", "funding_history", a.handleFundingHistory},
		{http.MethodGet, "/v1/positions/{account}/liquidations", "liquidation_history", a.handleLiquidationHistory},
		{http.MethodGet, "/v1/market", "get_market", a.handleGetMarket},
		{http.MethodPost, "/v1/market/oracle", "set_oracle", a.handleSetOracle},
		{http.MethodPost, "/v1/market/funding", "update_funding", a.handleUpdateFunding},
		{http.MethodPost, "/v1/market/adjust-k", "adjust_k", a.handleAdjustK},
		{http.MethodGet, "/v1/treasury", "get_treasury", a.handleGetTreasury},
		{http.MethodPost, "/v1/treasury/withdraw", "treasury_withdraw", a.handleTreasuryWithdraw},
		{http.MethodPost, "/v1/treasury/recipient", "set_recipient", a.handleSetRecipient},
		{http.MethodPost, "/v1/admin/params", "update_params", a.handleUpdateParams},
		{http.MethodPost, "/v1/admin/pause", "pause", a.handlePause},
		{http.MethodPost, "/v1/admin/unpause", "unpause", a.handleUnpause},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.instrument(rt.name, rt.handler)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (a *API) instrument(route string, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)
		a.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		a.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		a.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// httpStatus maps domain sentinels onto HTTP codes. Anything unmapped
// is a 500 and gets logged.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, margin.ErrZeroAmount),
		errors.Is(err, treasury.ErrZeroAmount),
		errors.Is(err, vamm.ErrZeroAmount),
		errors.Is(err, engine.ErrZeroSize),
		errors.Is(err, engine.ErrInvalidParams),
		errors.Is(err, auth.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthorizedCaller),
		errors.Is(err, auth.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNoPosition):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPositionExists),
		errors.Is(err, engine.ErrTradingPaused),
		errors.Is(err, engine.ErrPositionNotLiquidatable),
		errors.Is(err, vamm.ErrFundingUpdateTooSoon):
		return http.StatusConflict
	case errors.Is(err, margin.ErrInsufficientBalance),
		errors.Is(err, margin.ErrInsufficientAvailableMargin),
		errors.Is(err, engine.ErrInsufficientMargin),
		errors.Is(err, engine.ErrInvalidLeverage),
		errors.Is(err, treasury.ErrInsufficientBalance),
		errors.Is(err, vamm.ErrExcessivePriceImpact),
		errors.Is(err, vamm.ErrInvalidOraclePrice),
		errors.Is(err, vamm.ErrReservesDepleted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, err := fixedpoint.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func str(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type accountResponse struct {
	Account   auth.Address `json:"account"`
	Balance   string       `json:"balance"`
	Locked    string       `json:"locked"`
	Available string       `json:"available"`
}

func (a *API) accountState(account auth.Address) accountResponse {
	return accountResponse{
		Account:   account,
		Balance:   str(a.ledger.Balance(account)),
		Locked:    str(a.ledger.Locked(account)),
		Available: str(a.ledger.Available(account)),
	}
}

func (a *API) handleDeposit(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := auth.Address(pathParams["account"])
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.ledger.Deposit(account, amount); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.accountState(account))
}

func (a *API) handleWithdraw(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := auth.Address(pathParams["account"])
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.ledger.Withdraw(account, amount); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.accountState(account))
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := auth.Address(pathParams["account"])
	if account.IsZero() {
		a.writeError(w, auth.ErrZeroAddress)
		return
	}
	writeJSON(w, http.StatusOK, a.accountState(account))
}

type openPositionRequest struct {
	Account  string `json:"account"`
	IsLong   bool   `json:"is_long"`
	Notional string `json:"notional"`
}

type positionResponse struct {
	Account            auth.Address `json:"account"`
	IsLong             bool         `json:"is_long"`
	Size               string       `json:"size"`
	EntryPrice         string       `json:"entry_price"`
	Margin             string       `json:"margin"`
	FundingIndexAtOpen string       `json:"funding_index_at_open"`
	OpenedAt           time.Time    `json:"opened_at"`
}

func positionJSON(p *engine.Position) positionResponse {
	return positionResponse{
		Account:            p.Account,
		IsLong:             p.IsLong,
		Size:               str(p.Size),
		EntryPrice:         str(p.EntryPrice),
		Margin:             str(p.Margin),
		FundingIndexAtOpen: str(p.FundingIndexAtOpen),
		OpenedAt:           p.OpenedAt,
	}
}

func (a *API) handleOpenPosition(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req openPositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	notional, err := parseAmount("notional", req.Notional)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	pos, err := a.engine.OpenPosition(auth.Address(req.Account), req.IsLong, notional)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionJSON(pos))
}

type closePositionRequest struct {
	Account string `json:"account"`
}

type settlementResponse struct {
	Account   auth.Address `json:"account"`
	ExitPrice string       `json:"exit_price"`
	PnL       string       `json:"pnl"`
	Funding   string       `json:"funding"`
	Fee       string       `json:"fee"`
	Shortfall string       `json:"shortfall"`
	Reward    string       `json:"reward,omitempty"`
}

func settlementJSON(s *engine.Settlement) settlementResponse {
	resp := settlementResponse{
		Account:   s.Account,
		ExitPrice: str(s.ExitPrice),
		PnL:       str(s.PnL),
		Funding:   str(s.Funding),
		Fee:       str(s.Fee),
		Shortfall: str(s.Shortfall),
	}
	if s.Reward != nil {
		resp.Reward = s.Reward.String()
	}
	return resp
}

func (a *API) handleClosePosition(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req closePositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s, err := a.engine.ClosePosition(auth.Address(req.Account))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementJSON(s))
}

func (a *API) handleGetPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := auth.Address(pathParams["account"])
	pos, ok := a.engine.Position(account)
	if !ok {
		a.writeError(w, engine.ErrNoPosition)
		return
	}
	writeJSON(w, http.StatusOK, positionJSON(pos))
}

func (a *API) handleIsLiquidatable(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := auth.Address(pathParams["account"])
	liq, err := a.engine.IsLiquidatable(account)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liquidatable": liq})
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
}

func (a *API) handleLiquidate(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := auth.Address(pathParams["account"])
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s, err := a.engine.LiquidatePosition(auth.Address(req.Liquidator), account)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementJSON(s))
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (a *API) handleEmergencyClose(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account := auth.Address(pathParams["account"])
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s, err := a.engine.EmergencyClosePosition(auth.Address(req.Caller), account)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementJSON(s))
}

type marketResponse struct {
	MarkPrice         string        `json:"mark_price"`
	OraclePrice       string        `json:"oracle_price,omitempty"`
	FundingRate       string        `json:"funding_rate,omitempty"`
	FundingIndex      string        `json:"funding_index"`
	BaseReserve       string        `json:"base_reserve"`
	QuoteReserve      string        `json:"quote_reserve"`
	K                 string        `json:"k"`
	OpenInterestLong  string        `json:"open_interest_long"`
	OpenInterestShort string        `json:"open_interest_short"`
	SocializedLoss    string        `json:"socialized_loss"`
	TotalVolume       string        `json:"total_volume"`
	Paused            bool          `json:"paused"`
	Params            engine.Params `json:"params"`
}

func (a *API) handleGetMarket(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	base, quote, k := a.amm.Reserves()
	long, short := a.amm.OpenInterest()

	resp := marketResponse{
		MarkPrice:         str(a.amm.MarkPrice()),
		FundingIndex:      str(a.amm.FundingIndex()),
		BaseReserve:       str(base),
		QuoteReserve:      str(quote),
		K:                 str(k),
		OpenInterestLong:  str(long),
		OpenInterestShort: str(short),
		SocializedLoss:    str(a.engine.SocializedLoss()),
		TotalVolume:       str(a.engine.TotalVolume()),
		Paused:            a.engine.Paused(),
		Params:            a.engine.Params(),
	}
	// Oracle fields stay empty until a fresh reading exists.
	if oracle, err := a.amm.OraclePrice(); err == nil {
		resp.OraclePrice = oracle.String()
	}
	if rate, err := a.amm.FundingRate(); err == nil {
		resp.FundingRate = rate.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type oracleRequest struct {
	Price string `json:"price"`
}

func (a *API) handleSetOracle(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.amm.SetOraclePrice(price); err != nil {
		a.writeError(w, err)
		return
	}
	a.metrics.OraclePrice.Set(wadFloat(price))
	writeJSON(w, http.StatusOK, map[string]string{"price": price.String()})
}

func (a *API) handleUpdateFunding(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	rate, err := a.amm.UpdateFundingRate()
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.metrics.FundingRate.Set(wadFloat(rate))
	a.metrics.FundingEpochs.Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"rate":  rate.String(),
		"index": a.amm.FundingIndex().String(),
	})
}

type adjustKRequest struct {
	Caller string `json:"caller"`
	K      string `json:"k"`
}

func (a *API) handleAdjustK(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req adjustKRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	newK, err := parseAmount("k", req.K)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.amm.AdjustK(auth.Address(req.Caller), newK); err != nil {
		a.writeError(w, err)
		return
	}
	base, quote, k := a.amm.Reserves()
	writeJSON(w, http.StatusOK, map[string]string{
		"base_reserve":  base.String(),
		"quote_reserve": quote.String(),
		"k":             k.String(),
	})
}

type treasuryResponse struct {
	Balance        string       `json:"balance"`
	TotalCollected string       `json:"total_collected"`
	FeeRecipient   auth.Address `json:"fee_recipient"`
}

func (a *API) handleGetTreasury(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, treasuryResponse{
		Balance:        str(a.tre.Balance()),
		TotalCollected: str(a.tre.TotalCollected()),
		FeeRecipient:   a.tre.FeeRecipient(),
	})
}

type treasuryWithdrawRequest struct {
	Caller string `json:"caller"`
	// Amount empty drains the full balance.
	Amount string `json:"amount,omitempty"`
}

func (a *API) handleTreasuryWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req treasuryWithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var amount *big.Int
	if req.Amount != "" {
		var err error
		amount, err = parseAmount("amount", req.Amount)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	withdrawn, err := a.tre.Withdraw(auth.Address(req.Caller), amount)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"withdrawn": withdrawn.String(),
		"balance":   str(a.tre.Balance()),
	})
}

type recipientRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

func (a *API) handleSetRecipient(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req recipientRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.tre.SetFeeRecipient(auth.Address(req.Caller), auth.Address(req.Recipient)); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]auth.Address{"fee_recipient": a.tre.FeeRecipient()})
}

type updateParamsRequest struct {
	Caller string        `json:"caller"`
	Params engine.Params `json:"params"`
}

func (a *API) handleUpdateParams(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req updateParamsRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.engine.UpdateParams(auth.Address(req.Caller), req.Params); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Params())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.engine.Pause(auth.Address(req.Caller)); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (a *API) handleUnpause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req callerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.engine.Unpause(auth.Address(req.Caller)); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

var errHistoryUnavailable = errors.New("history queries unavailable")

func historyFilter(r *http.Request) query.Filter {
	q := r.URL.Query()
	f := query.Filter{
		Account:   auth.Address(q.Get("account")),
		EventType: q.Get("type"),
	}
	if before, err := strconv.ParseInt(q.Get("before"), 10, 64); err == nil {
		f.BeforeSequence = before
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = limit
	}
	return f
}

func (a *API) writeHistory(w http.ResponseWriter, events []query.StoredEvent, err error) {
	if err != nil {
		a.writeError(w, err)
		return
	}
	if events == nil {
		events = []query.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errHistoryUnavailable.Error()})
		return
	}
	events, err := a.history.Events(r.Context(), historyFilter(r))
	a.writeHistory(w, events, err)
}

func (a *API) handleAccountEvents(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if a.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errHistoryUnavailable.Error()})
		return
	}
	f := historyFilter(r)
	f.Account = auth.Address(pathParams["account"])
	events, err := a.history.Events(r.Context(), f)
	a.writeHistory(w, events, err)
}

func (a *API) handleFundingHistory(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errHistoryUnavailable.Error()})
		return
	}
	f := historyFilter(r)
	events, err := a.history.FundingHistory(r.Context(), f.BeforeSequence, f.Limit)
	a.writeHistory(w, events, err)
}

func (a *API) handleLiquidationHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if a.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errHistoryUnavailable.Error()})
		return
	}
	f := historyFilter(r)
	events, err := a.history.Liquidations(r.Context(), auth.Address(pathParams["account"]), f.BeforeSequence, f.Limit)
	a.writeHistory(w, events, err)
}

func wadFloat(x *big.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(x),
		new(big.Float).SetInt(fixedpoint.Wad),
	).Float64()
	return f
}
