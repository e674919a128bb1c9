package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	stakeerrors "licensestake/core/errors"
	"licensestake/native/bank"
	nativecommon "licensestake/native/common"
	"licensestake/native/license"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{stakeerrors.ErrNotOwner, http.StatusForbidden, "not_owner"},
	{stakeerrors.ErrNotAdmin, http.StatusForbidden, "not_admin"},
	{stakeerrors.ErrNotApproved, http.StatusForbidden, "not_approved"},
	{license.ErrNotTokenOwner, http.StatusForbidden, "not_token_owner"},
	{stakeerrors.ErrEpochNotFinishedYet, http.StatusConflict, "epoch_not_finished"},
	{stakeerrors.ErrEpochDidNotPassYet, http.StatusConflict, "lock_period_active"},
	{stakeerrors.ErrNoRewardsInPool, http.StatusConflict, "pool_empty"},
	{stakeerrors.ErrNoRewardsToClaim, http.StatusConflict, "nothing_to_claim"},
	{stakeerrors.ErrAlreadyLocked, http.StatusConflict, "already_locked"},
	{stakeerrors.ErrReentrantCall, http.StatusConflict, "reentrant_call"},
	{license.ErrTokenExists, http.StatusConflict, "token_exists"},
	{bank.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{stakeerrors.ErrStateDiverged, http.StatusServiceUnavailable, "state_diverged"},
	{stakeerrors.ErrStakingPaused, http.StatusServiceUnavailable, "paused"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "paused"},
	{license.ErrUnknownToken, http.StatusNotFound, "unknown_token"},
	{stakeerrors.ErrZeroParticipant, http.StatusBadRequest, "invalid_participant"},
	{license.ErrZeroOwner, http.StatusBadRequest, "invalid_owner"},
	{bank.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{bank.ErrSupplyOverflow, http.StatusBadRequest, "invalid_amount"},
}

// classify maps err onto an HTTP status and a stable error code.
func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message, RequestID: RequestIDFrom(r.Context())}})
}

// writeServiceError writes err using the error table. Internal errors hide
// their message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "request_id", RequestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
		message = http.StatusText(status)
	}
	writeJSONError(w, r, status, code, message)
}
