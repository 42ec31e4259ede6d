package api

import (
	"fmt"
	"net/http"

	"marketplace-ledger-go/internal/models"
	"marketplace-ledger-go/internal/withdrawal"

	"github.com/go-chi/chi/v5"
)

func (s *Service) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req withdrawal.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.UserID = user
	req.IdempotencyKey = r.Header.Get(headerIdempotencyKey)
	req.IP = r.RemoteAddr

	result, err := s.deps.Withdrawals.Withdraw(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Withdrawal.Status == models.WithdrawalPendingReconciliation {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Service) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, offset := pagination(r)

	list, err := s.deps.DB.Repos().Withdrawals().ListUserWithdrawals(r.Context(), user, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Withdrawal{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Service) handleGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")

	wd, err := s.deps.DB.Repos().Withdrawals().GetWithdrawal(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wd.UserId != user {
		writeError(w, r, fmt.Errorf("%w: withdrawal %s", models.ErrNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, wd)
}

// handleMyLimits previews the caller's limits for an optional amount.
func (s *Service) handleMyLimits(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.writeLimits(w, r, user)
}

func (s *Service) writeLimits(w http.ResponseWriter, r *http.Request, user string) {
	amount, err := queryInt64(r, "amount")
	if err != nil {
		writeError(w, r, err)
		return
	}
	check, err := s.deps.Limiter.CheckLimits(r.Context(), user, amount, chi.URLParam(r, "currency"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}
