package rest

import (
	"net/http"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/service"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) quotePrice(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	q, err := h.pricing.QuotePrice(r.Context(), req.ClientID, req.ListPrice)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "quote", q)
}

func (h *Handler) quoteDeal(w http.ResponseWriter, r *http.Request) {
	var req DealQuoteRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	q, err := h.pricing.QuoteDeal(r.Context(), req.Unit.toDomain(), req.ClientID, req.ListPrice)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "deal quote", q)
}

func (h *Handler) recordReferral(w http.ResponseWriter, r *http.Request) {
	var req ReferralRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	c, err := h.pricing.RecordReferral(r.Context(), req.ReferrerClientID, req.ReferredClientID, req.ReferringDepartmentID)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	SuccessCreated(w, "referral recorded", c)
}

func (h *Handler) createMou(w http.ResponseWriter, r *http.Request) {
	var req CreateMouRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	m, err := h.pricing.CreateMou(r.Context(), service.CreateMouInput{
		Unit:              req.Unit.toDomain(),
		ClientID:          req.ClientID,
		DepartmentID:      req.DepartmentID,
		Category:          domain.Category(req.Category),
		DealValue:         req.DealValue,
		AnnualMaintenance: req.AnnualMaintenance,
		Terms:             req.terms(),
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	SuccessCreated(w, "mou created", m)
}

func (h *Handler) getMou(w http.ResponseWriter, r *http.Request) {
	m, err := h.pricing.GetMou(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "mou", m)
}

func (h *Handler) transitionMou(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	m, err := h.pricing.TransitionMou(r.Context(), chi.URLParam(r, "id"), domain.MouStatus(req.Status))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "mou updated", m)
}

func (h *Handler) scheduleMouPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.pricing.ScheduleMouPayments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	SuccessCreated(w, "mou payments scheduled", payments)
}
