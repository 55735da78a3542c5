package rest

import (
	"net/http"
	"strconv"
	"time"

	"revenue-ledger/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) approveLedger(w http.ResponseWriter, r *http.Request) {
	var req LedgerIDsRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	res := h.ledger.Approve(r.Context(), req.IDs, optionalOperator(r))
	Success(w, bulkMessage("approved", res), res)
}

func (h *Handler) markLedgerPaid(w http.ResponseWriter, r *http.Request) {
	var req LedgerIDsRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	res := h.ledger.MarkPaid(r.Context(), req.IDs, req.PaidAt, optionalOperator(r))
	Success(w, bulkMessage("paid", res), res)
}

func bulkMessage(verb string, res domain.BulkResult) string {
	return strconv.Itoa(len(res.Updated)) + " " + verb + ", " + strconv.Itoa(len(res.Failures)) + " failed"
}

func (h *Handler) ledgerSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.LedgerSummaryFilter{GroupBy: domain.LedgerGroupBy(q.Get("group_by"))}
	if s := q.Get("status"); s != "" {
		st := domain.LedgerStatus(s)
		f.Status = &st
	}
	var err error
	if f.From, err = parseDate(q.Get("from")); err != nil {
		ErrorBadRequest(w, "from must be YYYY-MM-DD")
		return
	}
	if f.To, err = parseDate(q.Get("to")); err != nil {
		ErrorBadRequest(w, "to must be YYYY-MM-DD")
		return
	}

	rows, err := h.ledger.Summarize(r.Context(), f)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "ledger summary", rows)
}

func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) runSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRunRequest
	if err := h.decode(r, &req); err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	threshold := req.ThresholdHours
	if threshold == 0 {
		threshold = h.threshold
	}
	report, err := h.settlement.RunSettlementBatch(r.Context(), threshold)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "settlement run finished", report)
}

func (h *Handler) listSettlementRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			ErrorBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = v
	}
	runs, err := h.settlement.ListRuns(r.Context(), limit)
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "settlement runs", runs)
}

func (h *Handler) getSettlementRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.settlement.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		ErrorFrom(w, h.log, err)
		return
	}
	Success(w, "settlement run", report)
}
