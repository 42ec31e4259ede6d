package api

import (
	"errors"
	"fmt"
	"net/http"

	"marketplace-ledger-go/internal/ledger"
	"marketplace-ledger-go/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// mirrorCheck compares the local wallet with its Formance mirror.
type mirrorCheck struct {
	UserId          string `json:"user_id"`
	Currency        string `json:"currency"`
	LocalAvailable  int64  `json:"local_available"`
	LocalPending    int64  `json:"local_pending"`
	MirrorAvailable int64  `json:"mirror_available"`
	MirrorPending   int64  `json:"mirror_pending"`
	Drift           bool   `json:"drift"`
}

func (s *Service) handleSetTier(w http.ResponseWriter, r *http.Request) {
	var req models.TierRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := chi.URLParam(r, "userId")
	if err := s.deps.Limiter.SetTier(r.Context(), user, req.Tier); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": user, "tier": req.Tier})
}

func (s *Service) handleSetCustomLimits(w http.ResponseWriter, r *http.Request) {
	var req models.CustomLimitsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := chi.URLParam(r, "userId")
	if err := s.deps.Limiter.SetCustomLimits(r.Context(), user, req.Currency, req.Daily, req.Monthly); err != nil {
		writeError(w, r, err)
		return
	}
	check, err := s.deps.Limiter.CheckLimits(r.Context(), user, 0, req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Service) handleLimitsPreview(w http.ResponseWriter, r *http.Request) {
	s.writeLimits(w, r, chi.URLParam(r, "userId"))
}

func (s *Service) handleSuspend(w http.ResponseWriter, r *http.Request) {
	var req models.SuspendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user := chi.URLParam(r, "userId")
	if err := s.deps.Limiter.SuspendUser(r.Context(), user, req.Reason); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": user, "status": "suspended"})
}

func (s *Service) handleRestore(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "userId")
	if err := s.deps.Limiter.RestoreUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": user, "status": "active"})
}

func (s *Service) handleFraudProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.deps.Fraud.Profile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Service) handleBlockUser(blocked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := chi.URLParam(r, "userId")
		var err error
		if blocked {
			err = s.deps.Fraud.BlockUser(r.Context(), user)
		} else {
			err = s.deps.Fraud.UnblockUser(r.Context(), user)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": user, "blocked": blocked})
	}
}

func (s *Service) handleBlockIP(blocked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := chi.URLParam(r, "ip")
		var err error
		if blocked {
			err = s.deps.Fraud.BlockIP(r.Context(), ip)
		} else {
			err = s.deps.Fraud.UnblockIP(r.Context(), ip)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "blocked": blocked})
	}
}

// handleReconcile runs one reconciliation pass on demand.
func (s *Service) handleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Reconciler.RunOnce(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleVerifyWallet checks one wallet against its entry log. Drift is a
// finding, not a request failure.
func (s *Service) handleVerifyWallet(w http.ResponseWriter, r *http.Request) {
	check := models.BalanceCheck{
		UserId:   chi.URLParam(r, "userId"),
		Currency: chi.URLParam(r, "currency"),
	}
	err := s.deps.Ledger.Reconcile(r.Context(), check.UserId, check.Currency)
	switch {
	case errors.Is(err, ledger.ErrBalanceMismatch):
		check.Error = err.Error()
	case err != nil:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Service) handleMirrorBalance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mirror == nil {
		writeError(w, r, fmt.Errorf("%w: formance mirror is disabled", models.ErrNotFound))
		return
	}
	user := chi.URLParam(r, "userId")
	currency := chi.URLParam(r, "currency")

	acct, err := s.deps.Ledger.Balance(r.Context(), user, currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mirrored, err := s.deps.Mirror.GetWalletBalance(r.Context(), user, acct.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result := mirrorCheck{
		UserId:          user,
		Currency:        acct.Currency,
		LocalAvailable:  acct.BalanceAvailable,
		LocalPending:    acct.BalancePending,
		MirrorAvailable: mirrored.Available,
		MirrorPending:   mirrored.Pending,
		Drift:           mirrored.Drift(acct),
	}
	if result.Drift {
		zap.L().Warn("Formance mirror drift detected",
			zap.String("user_id", user),
			zap.String("currency", acct.Currency),
			zap.Int64("local_available", acct.BalanceAvailable),
			zap.Int64("mirror_available", mirrored.Available))
	}
	writeJSON(w, http.StatusOK, result)
}
