package api

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/liquity/ir-manager/internal/ir/manager"
	"github.com/liquity/ir-manager/internal/ir/types"
)

// IRHandlers exposes the manager's public operation surface over HTTP,
// following the teacher's RegisterMux(router) handler-registration
// convention.
type IRHandlers struct {
	mgr *manager.Manager
}

// NewIRHandlers builds the HTTP handler set over mgr.
func NewIRHandlers(mgr *manager.Manager) *IRHandlers {
	return &IRHandlers{mgr: mgr}
}

// RegisterMux registers every route on r.
func (h *IRHandlers) RegisterMux(r *mux.Router) {
	r.HandleFunc("/v1/strategies", h.getStrategies).Methods(http.MethodGet)
	r.HandleFunc("/v1/strategies/{key}", h.getStrategyAddress).Methods(http.MethodGet)
	r.HandleFunc("/v1/strategies/{key}/mint", h.mintStrategy).Methods(http.MethodPost)
	r.HandleFunc("/v1/strategies/{key}/batch-manager", h.setBatchManager).Methods(http.MethodPost)
	r.HandleFunc("/v1/strategies/{key}/logs", h.getStrategyLogs).Methods(http.MethodGet)
	r.HandleFunc("/v1/start", h.start).Methods(http.MethodPost)
	r.HandleFunc("/v1/assign-keys", h.assignKeys).Methods(http.MethodPost)
	r.HandleFunc("/v1/start-timers", h.startTimers).Methods(http.MethodPost)
	r.HandleFunc("/v1/swap", h.swapCkETH).Methods(http.MethodPost)
	r.HandleFunc("/v1/logs", h.getLogs).Methods(http.MethodGet)
	r.HandleFunc("/v1/recharge-logs", h.getRechargeLogs).Methods(http.MethodGet)
	r.HandleFunc("/v1/halt-status", h.haltStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/providers", h.rankedProviders).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", h.runtimeStatus).Methods(http.MethodGet)
}

func (h *IRHandlers) getStrategies(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.mgr.GetStrategies(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, strategies)
}

func (h *IRHandlers) getStrategyAddress(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	addr, ok := h.mgr.GetStrategyAddress(r.Context(), key)
	if !ok {
		WriteError(w, r, http.StatusNotFound, "not_found", "strategy has no assigned EOA", nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"eoa": addr})
}

func (h *IRHandlers) mintStrategy(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	var body struct {
		TargetMin          string   `json:"target_min"`
		Manager            string   `json:"manager"`
		MultiTroveGetter   string   `json:"multi_trove_getter"`
		SortedTroves       string   `json:"sorted_troves"`
		CollateralIndex    uint64   `json:"collateral_index"`
		RPCEndpoints       []string `json:"rpc_endpoints"`
		UpfrontFeePeriod   int64    `json:"upfront_fee_period"`
		CollateralRegistry string   `json:"collateral_registry"`
		HintHelper         string   `json:"hint_helper"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}

	targetMin, ok := new(big.Int).SetString(body.TargetMin, 10)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "target_min must be a base-10 integer string", nil)
		return
	}

	eoa, err := h.mgr.MintStrategy(r.Context(), types.StrategyInput{
		Key:                key,
		TargetMin:          targetMin,
		Manager:            body.Manager,
		MultiTroveGetter:   body.MultiTroveGetter,
		SortedTroves:       body.SortedTroves,
		CollateralIndex:    new(big.Int).SetUint64(body.CollateralIndex),
		RPCEndpoints:       body.RPCEndpoints,
		UpfrontFeePeriod:   big.NewInt(body.UpfrontFeePeriod),
		CollateralRegistry: body.CollateralRegistry,
		HintHelper:         body.HintHelper,
	})
	if err != nil {
		WriteError(w, r, http.StatusConflict, "mint_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"eoa": eoa})
}

func (h *IRHandlers) setBatchManager(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	var body struct {
		Address     string `json:"address"`
		CurrentRate string `json:"current_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}
	currentRate, ok := new(big.Int).SetString(body.CurrentRate, 10)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "current_rate must be a base-10 integer string", nil)
		return
	}

	if err := h.mgr.SetBatchManager(r.Context(), key, body.Address, currentRate); err != nil {
		WriteError(w, r, http.StatusConflict, "set_batch_manager_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IRHandlers) getStrategyLogs(w http.ResponseWriter, r *http.Request) {
	key, err := keyParam(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}
	logs, err := h.mgr.GetStrategyLogs(r.Context(), depthParam(r), key)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, logs)
}

func (h *IRHandlers) start(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count uint32 `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}
	if err := h.mgr.Start(r.Context(), body.Count); err != nil {
		WriteError(w, r, http.StatusConflict, "start_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IRHandlers) assignKeys(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.AssignKeys(r.Context()); err != nil {
		WriteError(w, r, http.StatusConflict, "assign_keys_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IRHandlers) startTimers(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.StartTimers(r.Context()); err != nil {
		WriteError(w, r, http.StatusConflict, "start_timers_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *IRHandlers) swapCkETH(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Recipient       string `json:"recipient"`
		AttachedCredits string `json:"attached_credits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid request body", nil)
		return
	}
	attached, ok := new(big.Int).SetString(body.AttachedCredits, 10)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "attached_credits must be a base-10 integer string", nil)
		return
	}
	resp, err := h.mgr.SwapCkETH(r.Context(), body.Recipient, attached)
	if err != nil {
		WriteError(w, r, http.StatusConflict, "swap_failed", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *IRHandlers) getLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.mgr.GetLogs(r.Context(), depthParam(r))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, logs)
}

func (h *IRHandlers) getRechargeLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.mgr.GetRechargeLogs(r.Context(), depthParam(r))
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, logs)
}

func (h *IRHandlers) haltStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"halt_state": string(h.mgr.HaltStatus(r.Context()))})
}

func (h *IRHandlers) rankedProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.mgr.GetRankedProvidersList(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, providers)
}

func (h *IRHandlers) runtimeStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.mgr.GetRuntimeStatus(r.Context())
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

func keyParam(r *http.Request) (uint32, error) {
	raw := mux.Vars(r)["key"]
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func depthParam(r *http.Request) uint64 {
	raw := r.URL.Query().Get("depth")
	if raw == "" {
		return 100
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 100
	}
	return v
}
