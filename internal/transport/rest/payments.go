package rest

import (
	"net/http"
	"strconv"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/service"
	"revenue-ledger/internal/transport/auth"

	"github.com/go-chi/chi/v5"
)

func operatorID(r *http.Request) (int64, error) {
	return auth.GetUserID(r.Context())
}

// optionalOperator returns the authenticated operator, or nil when the router
// runs without auth.
func optionalOperator(r *http.Request) *int64 {
	id, err := operatorID(r)
	if err != nil {
		return nil
	}
	return &id
}

func (h *Handler) calculateSplit(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	res, err := h.payments.CalculateSplit(r.Context(), req.GrossAmount, domain.Category(req.Category), req.Adjustments.toDomain())
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "split calculated", res)
}

func (h *Handler) listSplitModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context())
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "split models", models)
}

func (h *Handler) getSplitModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.models.Get(r.Context(), domain.Category(chi.URLParam(r, "category")))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "split model", m)
}

func (h *Handler) putSplitModel(w http.ResponseWriter, r *http.Request) {
	var req SplitModelRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	m, err := h.models.Set(r.Context(), domain.Category(chi.URLParam(r, "category")), req.toDomain())
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "split model updated", m)
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	p, err := h.payments.CreatePayment(r.Context(), service.CreatePaymentInput{
		Unit:                      req.Unit.toDomain(),
		GrossAmount:               req.GrossAmount,
		Category:                  domain.Category(req.Category),
		AutoSplit:                 req.AutoSplit,
		ClientID:                  req.ClientID,
		DepartmentID:              req.DepartmentID,
		DepartmentDiscountPercent: req.DepartmentDiscountPercent,
		IsFirstMilestone:          req.IsFirstMilestone,
		DueAt:                     req.DueAt,
		Notes:                     req.Notes,
	})
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	SuccessCreated(w, "payment created", p)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "payment", p)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	cascade := false
	if raw := r.URL.Query().Get("cascade"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			ErrorBadRequest(w, "cascade must be a boolean")
			return
		}
		cascade = v
	}
	if err := h.payments.DeletePayment(r.Context(), chi.URLParam(r, "id"), cascade); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "payment deleted", nil)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	p, err := h.payments.ConfirmReceived(r.Context(), chi.URLParam(r, "id"), req.AutoSplit)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "payment received", p)
}

func (h *Handler) transitionPayment(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	p, err := h.payments.TransitionPayment(r.Context(), chi.URLParam(r, "id"), domain.PaymentStatus(req.Status))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "payment updated", p)
}

func (h *Handler) flagPayment(w http.ResponseWriter, r *http.Request) {
	var req FlagRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	p, err := h.payments.FlagPayment(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "payment held for review", p)
}

func (h *Handler) releasePayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.payments.ReleasePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "payment released", p)
}

func (h *Handler) paymentLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.payments.ListLedgerEntries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "ledger entries", entries)
}
