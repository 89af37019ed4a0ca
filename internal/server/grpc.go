// Package server exposes the read and admin surface: a gRPC endpoint that
// carries health and reflection, and an HTTP/JSON API on a grpc-gateway mux.
// Production call traffic arrives over NATS; everything here is for
// operators, dashboards, and the token-mover bridge.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/NearDeFi/burrowland/internal/core"
	"github.com/NearDeFi/burrowland/internal/event"
	"github.com/NearDeFi/burrowland/internal/ingestion"
	"github.com/NearDeFi/burrowland/internal/ledger"
	"github.com/NearDeFi/burrowland/internal/observability"
	"github.com/NearDeFi/burrowland/internal/oracle"
	"github.com/NearDeFi/burrowland/internal/persistence"
	"github.com/NearDeFi/burrowland/internal/projection"
	"github.com/NearDeFi/burrowland/internal/query"
	"github.com/NearDeFi/burrowland/internal/state"
)

// Deps holds everything the API surface needs.
type Deps struct {
	Core      *core.Core
	Processor *ingestion.Processor
	Injector  *ingestion.Injector
	Query     *query.Service
	Snapshots *persistence.SnapshotManager
	Checker   *ledger.Checker
	DB        *sql.DB
	Health    *observability.HealthChecker
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// Server runs the gRPC listener and the HTTP gateway.
type Server struct {
	deps       Deps
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	logger     zerolog.Logger
}

func New(grpcAddr, httpAddr string, deps Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui.
	reflection.Register(grpcServer)

	return &Server{
		deps:       deps,
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		logger:     deps.Logger.With().Str("component", "server").Logger(),
	}
}

// StartGRPC serves the gRPC listener until the context ends.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until the context ends.
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return err
	}

	httpMux := http.NewServeMux()
	if s.deps.Health != nil {
		httpMux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method, path string
		handler      runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/config", s.instrument("get_config", s.getConfig)},
		{http.MethodGet, "/v1/assets", s.instrument("list_assets", s.listAssets)},
		{http.MethodGet, "/v1/assets/{token_id}", s.instrument("get_asset", s.getAsset)},
		{http.MethodGet, "/v1/assets/{token_id}/rates", s.instrument("asset_rates", s.assetRates)},
		{http.MethodGet, "/v1/accounts", s.instrument("list_accounts", s.listAccounts)},
		{http.MethodGet, "/v1/accounts/{account_id}", s.instrument("get_account", s.getAccount)},
		{http.MethodGet, "/v1/accounts/{account_id}/calls", s.instrument("call_history", s.callHistory)},
		{http.MethodPost, "/v1/accounts/{account_id}/execute", s.instrument("execute", s.executeActions)},
		{http.MethodPost, "/v1/accounts/{account_id}/stake_booster", s.instrument("stake_booster", s.stakeBooster)},
		{http.MethodPost, "/v1/accounts/{account_id}/unstake_booster", s.instrument("unstake_booster", s.unstakeBooster)},
		{http.MethodPost, "/v1/accounts/{account_id}/claim_rewards", s.instrument("claim_rewards", s.claimRewards)},
		{http.MethodPost, "/v1/ingest/token_transfer", s.instrument("inject_transfer", s.injectTokenTransfer)},
		{http.MethodPost, "/v1/ingest/oracle_call", s.instrument("inject_oracle", s.injectOracleCall)},
		{http.MethodPost, "/v1/ingest/transfer_result", s.instrument("inject_result", s.injectTransferResult)},
		{http.MethodPost, "/v1/admin/assets", s.instrument("add_asset", s.addAsset)},
		{http.MethodPut, "/v1/admin/assets/{token_id}", s.instrument("update_asset", s.updateAsset)},
		{http.MethodPut, "/v1/admin/config", s.instrument("update_config", s.updateConfig)},
		{http.MethodPost, "/v1/admin/farms", s.instrument("add_farm_reward", s.addFarmReward)},
		{http.MethodPost, "/v1/admin/snapshot", s.instrument("take_snapshot", s.takeSnapshot)},
		{http.MethodGet, "/v1/admin/audit", s.instrument("audit", s.audit)},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

func (s *Server) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)
		if m := s.deps.Metrics; m != nil {
			status := strconv.Itoa(sw.status)
			m.QueryRequests.WithLabelValues(endpoint, status).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if sw.status >= 400 {
				m.QueryErrors.WithLabelValues(endpoint, status).Inc()
			}
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ---- query endpoints ----

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	cfg, err := s.deps.Query.GetConfig(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) listAssets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	page, err := s.deps.Query.GetAssets(r.Context(), r.URL.Query().Get("cursor"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	view, err := s.deps.Query.GetAsset(r.Context(), pathParams["token_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) assetRates(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	sinceMs, _ := strconv.ParseInt(r.URL.Query().Get("since_ms"), 10, 64)
	samples, err := projection.History(r.Context(), s.deps.DB, pathParams["token_id"], sinceMs, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	page, err := s.deps.Query.GetAccounts(r.Context(), r.URL.Query().Get("cursor"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	view, err := s.deps.Query.GetAccount(r.Context(), pathParams["account_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) callHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid before cursor")
			return
		}
		before = &seq
	}
	records, err := s.deps.Query.GetCallHistory(r.Context(), pathParams["account_id"], queryInt(r, "limit"), before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": records})
}

// ---- account operations ----

func (s *Server) executeActions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req struct {
		Actions []event.Action `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	if len(req.Actions) == 0 {
		writeBadRequest(w, "actions are required")
		return
	}
	accountID := pathParams["account_id"]
	nowMs := time.Now().UnixMilli()
	err := s.deps.Processor.RunCall(r.Context(), "execute", accountID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return s.deps.Core.ExecuteActions(accountID, req.Actions, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) stakeBooster(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req struct {
		Amount      *string `json:"amount"`
		DurationSec int64   `json:"duration_sec"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	var amount *big.Int
	if req.Amount != nil {
		var ok bool
		amount, ok = new(big.Int).SetString(*req.Amount, 10)
		if !ok {
			writeBadRequest(w, "invalid amount")
			return
		}
	}
	accountID := pathParams["account_id"]
	nowMs := time.Now().UnixMilli()
	err := s.deps.Processor.RunCall(r.Context(), "stake_booster", accountID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return nil, s.deps.Core.StakeBooster(accountID, amount, req.DurationSec, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) unstakeBooster(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	accountID := pathParams["account_id"]
	nowMs := time.Now().UnixMilli()
	err := s.deps.Processor.RunCall(r.Context(), "unstake_booster", accountID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return nil, s.deps.Core.UnstakeBooster(accountID, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) claimRewards(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	accountID := pathParams["account_id"]
	nowMs := time.Now().UnixMilli()
	err := s.deps.Processor.RunCall(r.Context(), "claim_all", accountID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return nil, s.deps.Core.ClaimAllRewards(accountID, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

// ---- manual ingestion ----

func (s *Server) injectTokenTransfer(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		TokenID  string `json:"token_id"`
		SenderID string `json:"sender_id"`
		Amount   string `json:"amount"`
		Msg      string `json:"msg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeBadRequest(w, "invalid amount")
		return
	}
	if err := s.deps.Injector.InjectTokenTransfer(r.Context(), req.TokenID, req.SenderID, amount, req.Msg); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) injectOracleCall(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		SenderID  string            `json:"sender_id"`
		PriceData *oracle.PriceData `json:"price_data"`
		Msg       string            `json:"msg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	if err := s.deps.Injector.InjectOracleCall(r.Context(), req.SenderID, req.PriceData, req.Msg); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) injectTransferResult(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		IntentID string `json:"intent_id"`
		Success  bool   `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	if err := s.deps.Injector.InjectTransferResult(r.Context(), req.IntentID, req.Success); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// ---- admin ----

func (s *Server) addAsset(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		CallerID string            `json:"caller_id"`
		TokenID  string            `json:"token_id"`
		Config   state.AssetConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	nowMs := time.Now().UnixMilli()
	err := s.deps.Processor.RunCall(r.Context(), "add_asset", req.CallerID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return nil, s.deps.Core.AddAsset(req.CallerID, req.TokenID, req.Config, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) updateAsset(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req struct {
		CallerID string            `json:"caller_id"`
		Config   state.AssetConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	tokenID := pathParams["token_id"]
	nowMs := time.Now().UnixMilli()
	err := s.deps.Processor.RunCall(r.Context(), "update_asset", req.CallerID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return nil, s.deps.Core.UpdateAsset(req.CallerID, tokenID, req.Config, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		CallerID string      `json:"caller_id"`
		Config   core.Config `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	nowMs := time.Now().UnixMilli()
	err := s.deps.Processor.RunCall(r.Context(), "update_config", req.CallerID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return nil, s.deps.Core.UpdateConfig(req.CallerID, req.Config, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) addFarmReward(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		CallerID       string `json:"caller_id"`
		FarmID         string `json:"farm_id"`
		RewardTokenID  string `json:"reward_token_id"`
		RewardPerDay   string `json:"reward_per_day"`
		BoosterLogBase string `json:"booster_log_base"`
		Amount         string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid body: "+err.Error())
		return
	}
	farmID, err := state.ParseFarmID(req.FarmID)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rewardPerDay, ok := new(big.Int).SetString(req.RewardPerDay, 10)
	if !ok {
		writeBadRequest(w, "invalid reward_per_day")
		return
	}
	boosterLogBase, ok := new(big.Int).SetString(req.BoosterLogBase, 10)
	if !ok {
		writeBadRequest(w, "invalid booster_log_base")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		writeBadRequest(w, "invalid amount")
		return
	}
	nowMs := time.Now().UnixMilli()
	err = s.deps.Processor.RunCall(r.Context(), "add_farm_reward", req.CallerID, nowMs, func() ([]core.OutgoingTransfer, error) {
		return nil, s.deps.Core.AddFarmReward(req.CallerID, farmID, req.RewardTokenID, rewardPerDay, boosterLogBase, amount, nowMs)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": true})
}

func (s *Server) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var snap *persistence.SnapshotData
	if err := s.deps.Processor.Do(r.Context(), func() {
		snap = persistence.Capture(s.deps.Core)
	}); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Snapshots.Save(r.Context(), snap); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequence": snap.Sequence})
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	violations, err := s.deps.Checker.Check(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balanced":   len(violations) == 0,
		"violations": violations,
	})
}

// ---- helpers ----

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrAssetNotFound), errors.Is(err, core.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrInsufficientCollateral),
		errors.Is(err, core.ErrZeroAmountOrShares),
		errors.Is(err, core.ErrTooManyAssets),
		errors.Is(err, core.ErrMissingPrice),
		errors.Is(err, core.ErrStalePriceData),
		errors.Is(err, core.ErrNotAtRisk),
		errors.Is(err, core.ErrNotBadDebt),
		errors.Is(err, core.ErrSelfLiquidation),
		errors.Is(err, core.ErrHealthDecrease),
		errors.Is(err, core.ErrInsufficientRepayment):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
