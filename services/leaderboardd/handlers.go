package leaderboardd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"emojiboard/core/events"
	"emojiboard/gateway/middleware"
	board "emojiboard/native/leaderboard"
	"emojiboard/services/leaderboardd/activity"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type gateResponse struct {
	CanUpdate        bool   `json:"canUpdate"`
	CurrentDay       int64  `json:"currentDay"`
	LastUpdateDay    int64  `json:"lastUpdateDay"`
	LastUpdateTime   string `json:"lastUpdateTime,omitempty"`
	UpdateInProgress bool   `json:"updateInProgress"`
	Forced           bool   `json:"forced"`
	PeriodLength     string `json:"periodLength"`
	NextPeriodStart  string `json:"nextPeriodStart"`
}

type entryPayload struct {
	Rank    int    `json:"rank"`
	Address string `json:"address"`
	Score   uint64 `json:"score"`
}

type leaderboardResponse struct {
	Period  int64          `json:"period"`
	Entries []entryPayload `json:"entries"`
}

type eventPayload struct {
	Sequence     uint64 `json:"sequence"`
	Updater      string `json:"updater"`
	Period       int64  `json:"period"`
	Timestamp    int64  `json:"timestamp"`
	RewardAmount string `json:"rewardAmount"`
	Entries      uint64 `json:"entries"`
	Digest       string `json:"digest"`
}

type updateRequest struct {
	Ceiling uint64 `json:"ceiling"`
}

type updateResponse struct {
	Period       int64        `json:"period"`
	RewardAmount string       `json:"rewardAmount"`
	Balance      string       `json:"balance"`
	Entries      int          `json:"entries"`
	Cost         uint64       `json:"cost"`
	Event        eventPayload `json:"event"`
}

type balanceResponse struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type supplyResponse struct {
	Supply   string `json:"supply"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type fundRequest struct {
	Amount string `json:"amount"`
}

type activityPayload struct {
	Participant string    `json:"participant"`
	Kind        string    `json:"kind"`
	Quantity    uint64    `json:"quantity"`
	OccurredAt  time.Time `json:"occurredAt,omitempty"`
}

type ingestRequest struct {
	Records []activityPayload `json:"records"`
}

type ingestResponse struct {
	IDs []string `json:"ids"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func (s *Server) gateStatus() gateResponse {
	state := s.gate.State()
	current := s.gate.CurrentDay()
	clock := s.gate.Clock()
	resp := gateResponse{
		CanUpdate:        s.gate.CanUpdate(),
		CurrentDay:       current,
		LastUpdateDay:    state.LastUpdatedPeriod,
		UpdateInProgress: state.UpdateInProgress,
		Forced:           state.Forced,
		PeriodLength:     clock.Length().String(),
		NextPeriodStart:  clock.PeriodStart(current + 1).Format(time.RFC3339),
	}
	if last := s.gate.LastUpdateTime(); !last.IsZero() {
		resp.LastUpdateTime = last.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateStatus())
}

func (s *Server) handleCanUpdate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"canUpdate": s.gate.CanUpdate()})
}

func (s *Server) handleCurrentDay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"currentDay": s.gate.CurrentDay()})
}

func (s *Server) handleLastUpdateDay(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"lastUpdateDay": s.gate.LastUpdateDay()})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ranked := s.gate.Leaderboard()
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	resp := leaderboardResponse{Period: s.gate.LeaderboardPeriod(), Entries: make([]entryPayload, 0, len(ranked))}
	for _, entry := range ranked {
		resp.Entries = append(resp.Entries, entryPayload{Rank: entry.Rank, Address: entry.Participant.Hex(), Score: entry.Score})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "address"))
	if !common.IsHexAddress(raw) {
		s.writeError(w, fmt.Errorf("%w: address %q is not a hex address", errBadRequest, raw))
		return
	}
	addr := common.HexToAddress(raw)
	writeJSON(w, http.StatusOK, balanceResponse{
		Address:  addr.Hex(),
		Balance:  s.gate.BalanceOf(addr).Dec(),
		Symbol:   board.TokenSymbol,
		Decimals: board.TokenDecimals,
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, supplyResponse{
		Supply:   s.gate.Supply().Dec(),
		Symbol:   board.TokenSymbol,
		Decimals: board.TokenDecimals,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	periods, err := queryInt(r, "periods", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recent := s.gate.RecentEvents(int64(periods), limit)
	out := make([]eventPayload, 0, len(recent))
	for _, evt := range recent {
		out = append(out, eventPayloadFrom(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		s.writeError(w, fmt.Errorf("%w: caller identity required", board.ErrNotAuthorized))
		return
	}
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.gate.UpdateLeaderboard(r.Context(), caller, req.Ceiling)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{
		Period:       result.Period,
		RewardAmount: result.RewardAmount.Dec(),
		Balance:      result.Balance.Dec(),
		Entries:      result.Entries,
		Cost:         result.Cost,
		Event:        eventPayloadFrom(result.Event),
	})
}

func (s *Server) handleForceUpdateDay(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	if err := s.gate.ForceUpdateDay(caller); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.gateStatus())
}

func (s *Server) handleForceReset(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	if err := s.gate.ForceReset(caller); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.gateStatus())
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.CallerFromContext(r.Context())
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: amount: %v", errBadRequest, err))
		return
	}
	supply, err := s.gate.FundRewards(caller, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, supplyResponse{Supply: supply.Dec(), Symbol: board.TokenSymbol, Decimals: board.TokenDecimals})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "activity ingestion disabled", Code: "unsupported"})
		return
	}
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	records := make([]board.ActivityRecord, 0, len(req.Records))
	for i, payload := range req.Records {
		if !common.IsHexAddress(strings.TrimSpace(payload.Participant)) {
			s.writeError(w, fmt.Errorf("%w: record %d participant is not a hex address", errBadRequest, i))
			return
		}
		records = append(records, board.ActivityRecord{
			Participant: common.HexToAddress(strings.TrimSpace(payload.Participant)),
			Kind:        payload.Kind,
			Quantity:    payload.Quantity,
			OccurredAt:  payload.OccurredAt,
		})
	}
	ids, err := s.activity.Ingest(r.Context(), records)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := ingestResponse{IDs: make([]string, len(ids))}
	for i, id := range ids {
		resp.IDs[i] = id.String()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func eventPayloadFrom(evt events.LeaderboardUpdated) eventPayload {
	reward := "0"
	if evt.RewardAmount != nil {
		reward = evt.RewardAmount.Dec()
	}
	return eventPayload{
		Sequence:     evt.Sequence,
		Updater:      evt.Updater.Hex(),
		Period:       evt.Period,
		Timestamp:    evt.Timestamp,
		RewardAmount: reward,
		Entries:      evt.Entries,
		Digest:       "0x" + hex.EncodeToString(evt.Digest[:]),
	}
}

// statusFor maps gate errors onto HTTP statuses.
func statusFor(err error) (int, string, bool) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, activity.ErrInvalidRecord):
		return http.StatusBadRequest, "bad_request", false
	case errors.Is(err, board.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized", false
	case errors.Is(err, board.ErrNotEligible):
		return http.StatusConflict, "not_eligible", false
	case errors.Is(err, board.ErrUpdateSuperseded):
		return http.StatusConflict, "superseded", false
	case errors.Is(err, board.ErrResourceExceeded):
		return http.StatusUnprocessableEntity, "resource_exceeded", true
	case errors.Is(err, board.ErrInvalidData):
		return http.StatusUnprocessableEntity, "invalid_data", false
	case errors.Is(err, board.ErrAggregationFailed):
		return http.StatusUnprocessableEntity, "aggregation_failed", false
	case errors.Is(err, board.ErrInsufficientSupply):
		return http.StatusServiceUnavailable, "insufficient_supply", false
	default:
		return http.StatusInternalServerError, "internal", false
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code, retryable := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("leaderboardd: request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code, Retryable: retryable})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return value, nil
}
