package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/openmatka/engine/internal/round"
	"github.com/openmatka/engine/internal/stake"
	"github.com/openmatka/engine/internal/wallet"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}

// writeDomainError maps domain errors onto HTTP statuses. Unknown errors
// become 500s with the detail kept in the logs only.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, round.ErrTooLate):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, round.ErrNoActiveRound):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, round.ErrInvalidOverride),
		errors.Is(err, stake.ErrInvalidNumber),
		errors.Is(err, stake.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, wallet.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, wallet.ErrUserNotFound),
		errors.Is(err, stake.ErrStakeNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, stake.ErrAlreadySettled),
		errors.Is(err, stake.ErrNotClaimable):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, stake.ErrBarcodeTaken):
		// Re-mints exhausted; the ticket space is effectively full.
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		log.Error().Err(err).Msg("unhandled request error")
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func (s *Services) handlePlaceStake(w http.ResponseWriter, r *http.Request) {
	var req stake.PlaceStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	placed, err := s.Stakes.Place(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, placed)
}

func (s *Services) handleClaimStake(w http.ResponseWriter, r *http.Request) {
	barcode := r.PathValue("barcode")
	if err := s.Stakes.Claim(r.Context(), barcode); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"barcode": barcode, "status": "claimed"})
}

func (s *Services) handleCancelStake(w http.ResponseWriter, r *http.Request) {
	barcode := r.PathValue("barcode")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, errors.New("user_id is required"))
		return
	}

	balance, err := s.Stakes.Cancel(r.Context(), barcode, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"barcode": barcode,
		"status":  "cancelled",
		"balance": balance,
	})
}

func (s *Services) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	label, secondsLeft, ok := s.Tracker.Snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, round.ErrNoActiveRound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"label":        label,
		"seconds_left": secondsLeft,
	})
}

func (s *Services) handleRecentResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.Results.Recent(r.Context(), 20)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Services) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	balance, err := s.Wallet.Balance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": balance})
}

type overrideRequest struct {
	Number int   `json:"number"`
	Bonus  int64 `json:"bonus"`
}

// handleSetOverride pins the next result. Guarded by the admin token and
// the tracker's own cutoff and range checks.
func (s *Services) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	if err := s.Tracker.TrySetOverride(req.Number, req.Bonus); err != nil {
		writeDomainError(w, err)
		return
	}

	label, _ := s.Tracker.CurrentLabel()
	log.Info().
		Str("round", label).
		Int("number", req.Number).
		Int64("bonus", req.Bonus).
		Msg("result override set")
	writeJSON(w, http.StatusOK, map[string]any{
		"round":  label,
		"number": req.Number,
		"bonus":  req.Bonus,
	})
}

// requireAdmin rejects requests without the configured bearer token. An
// empty token disables the endpoint entirely rather than leaving it open.
func requireAdmin(token string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next(w, r)
	}
}
