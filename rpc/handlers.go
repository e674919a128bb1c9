package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"licensestake/indexer"
)

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseUint(raw, field string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}

func decodeBody(r *http.Request, out interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeJSONError(w, r, http.StatusBadRequest, "bad_request", err.Error())
}

// principal is only called behind the authenticator.
func principal(r *http.Request) common.Address {
	p, _ := PrincipalFrom(r.Context())
	return p
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponseFrom(status))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	acc := s.service.Account(addr)
	if acc == nil {
		writeJSONError(w, r, http.StatusNotFound, "unknown_account", "account has never staked")
		return
	}
	pending, err := s.service.Pending(addr)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := accountResponse{
		Address:              acc.Address.Hex(),
		Staked:               acc.Staked,
		LastStakeUpdateEpoch: acc.LastStakeUpdateEpoch,
		LastClaimedEpoch:     acc.LastClaimedEpoch,
		History:              acc.History,
		Pending:              pendingResponseFrom(pending),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	pending, err := s.service.Pending(addr)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pendingResponseFrom(pending))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	balance, err := s.service.Balance(r.Context(), addr)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.Hex(), "balance": amount(balance)})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	tokenID, err := parseUint(chi.URLParam(r, "tokenID"), "token id")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	pos := s.service.Position(tokenID)
	if pos == nil {
		writeJSONError(w, r, http.StatusNotFound, "not_locked", "license is not locked")
		return
	}
	writeJSON(w, http.StatusOK, positionResponseFrom(pos))
}

func (s *Server) handleLicense(w http.ResponseWriter, r *http.Request) {
	tokenID, err := parseUint(chi.URLParam(r, "tokenID"), "token id")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	owner, err := s.service.LicenseOwner(r.Context(), tokenID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"tokenId": strconv.FormatUint(tokenID, 10), "owner": owner.Hex()})
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	records := s.service.Settlements()
	out := make([]settlementResponse, 0, len(records))
	for _, record := range records {
		out = append(out, settlementResponseFrom(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	epoch, err := parseUint(chi.URLParam(r, "epoch"), "epoch")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	record, ok := s.service.Settlement(epoch)
	if !ok {
		writeJSONError(w, r, http.StatusNotFound, "unknown_settlement", "no settlement retained for epoch")
		return
	}
	writeJSON(w, http.StatusOK, settlementResponseFrom(record))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSONError(w, r, http.StatusServiceUnavailable, "indexer_disabled", "event archive is not configured")
		return
	}
	q := r.URL.Query()
	filter := indexer.Filter{Type: q.Get("type"), Participant: q.Get("participant")}
	if raw := q.Get("epoch"); raw != "" {
		epoch, err := parseUint(raw, "epoch")
		if err != nil {
			badRequest(w, r, err)
			return
		}
		filter.Epoch = epoch
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(w, r, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	records, err := s.archive.Query(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(records))
	for _, record := range records {
		out = append(out, eventResponseFrom(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decodeToken(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err)
		return 0, false
	}
	tokenID, err := parseUint(req.TokenID, "token id")
	if err != nil {
		badRequest(w, r, err)
		return 0, false
	}
	return tokenID, true
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	tokenID, err := parseUint(chi.URLParam(r, "tokenID"), "token id")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := s.service.Approve(r.Context(), principal(r), tokenID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := s.decodeToken(w, r)
	if !ok {
		return
	}
	if err := s.service.Lock(r.Context(), principal(r), tokenID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pos := s.service.Position(tokenID)
	if pos == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, positionResponseFrom(pos))
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := s.decodeToken(w, r)
	if !ok {
		return
	}
	if err := s.service.Unlock(r.Context(), principal(r), tokenID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	paid, err := s.service.Claim(r.Context(), principal(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Amount: amount(paid)})
}

func (s *Server) handleCloseEpoch(w http.ResponseWriter, r *http.Request) {
	settlement, err := s.service.CloseEpoch(r.Context(), principal(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementResponseFrom(settlement))
}

func (s *Server) handleMintLicense(w http.ResponseWriter, r *http.Request) {
	var req mintLicenseRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	tokenID, err := parseUint(req.TokenID, "token id")
	if err != nil {
		badRequest(w, r, err)
		return
	}
	if err := s.service.MintLicense(r.Context(), principal(r), owner, tokenID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	value, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		badRequest(w, r, fmt.Errorf("invalid amount %q", req.Amount))
		return
	}
	if err := s.service.Fund(r.Context(), principal(r), value); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pauseRequest
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, r, err)
			return
		}
		if strings.TrimSpace(req.Module) == "" {
			badRequest(w, r, errors.New("module required"))
			return
		}
		if err := s.service.SetPaused(r.Context(), principal(r), req.Module, paused); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
