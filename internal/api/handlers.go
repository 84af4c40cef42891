package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/ofair/referrals/internal/domain"
	"github.com/ofair/referrals/internal/models"
	"github.com/ofair/referrals/internal/service"
)

const defaultStatsWindow = 30 * 24 * time.Hour

func (h *Handler) CreateReferralHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReferralRequest
	if !h.decode(w, r, &req) {
		return
	}

	ref, err := h.referrals.CreateReferral(r.Context(), principalFrom(r.Context()), service.CreateReferralInput{
		LeadID:         req.LeadID,
		ReferredUserID: req.ReferredUserID,
		ProposalID:     req.ProposalID,
		CommissionRate: req.CommissionRate,
		Context:        req.Context,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/referrals/%s", ref.ID))
	respondWithJSON(w, http.StatusCreated, ref)
}

func (h *Handler) GetReferralHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := h.referrals.GetReferral(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ref)
}

func (h *Handler) GetReferralChainHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	chain, err := h.referrals.GetReferralChain(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ChainResponse{ReferralID: id, Depth: len(chain), Chain: chain})
}

func (h *Handler) UpdateReferralStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	ref, err := h.referrals.UpdateReferralStatus(r.Context(), mux.Vars(r)["id"], req.Status, principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ref)
}

func (h *Handler) CalculateCommissionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CalculateCommissionRequest
	if !h.decode(w, r, &req) {
		return
	}

	c, err := h.calc.CalculateCommission(r.Context(), mux.Vars(r)["id"], req.LeadValue, req.PaymentConfirmed, principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, c)
}

func (h *Handler) RecalculateChainHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.referrals.RecalculateChain(r.Context(), id, principalFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, models.TaskAccepted{ReferralID: id, Status: "queued"})
}

func (h *Handler) ListUserReferralsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	var status *domain.ReferralStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.ReferralStatus(s)
		status = &st
	}

	refs, err := h.referrals.ListUserReferrals(r.Context(), principalFrom(r.Context()), mux.Vars(r)["id"], status, limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if refs == nil {
		refs = []domain.Referral{}
	}
	respondWithJSON(w, http.StatusOK, models.ReferralListResponse{Referrals: refs, Limit: limit, Offset: offset})
}

func (h *Handler) GetUserStatsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end := time.Now().UTC()
	if v := q.Get("end"); v != "" {
		t, err := parseDate(v, true)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid end date")
			return
		}
		end = t
	}
	start := end.Add(-defaultStatsWindow)
	if v := q.Get("start"); v != "" {
		t, err := parseDate(v, false)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid start date")
			return
		}
		start = t
	}

	stats, err := h.stats.GetUserStats(r.Context(), mux.Vars(r)["id"], start, end, principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) ListPendingCommissionsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := h.payments.ListPendingCommissions(r.Context(), limit, offset, principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Commission{}
	}
	respondWithJSON(w, http.StatusOK, models.CommissionListResponse{Commissions: list, Limit: limit, Offset: offset})
}

func (h *Handler) ApproveCommissionHandler(w http.ResponseWriter, r *http.Request) {
	c, err := h.payments.ApproveCommission(r.Context(), mux.Vars(r)["id"], principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *Handler) PayCommissionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.payments.ProcessCommissionPayment(r.Context(), mux.Vars(r)["id"], service.PaymentInput{
		PaymentMethod: req.PaymentMethod,
		TransactionID: req.TransactionID,
	}, principalFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	limit, offset := 0, 0
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return 0, 0, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid offset")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

// parseDate accepts RFC 3339 timestamps and plain dates. A plain end date
// covers the whole day.
func parseDate(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
