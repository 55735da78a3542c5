package rest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"revenue-ledger/internal/domain"
	"revenue-ledger/internal/metrics"
	"revenue-ledger/internal/service"
	"revenue-ledger/internal/split"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type SplitModels interface {
	Get(ctx context.Context, category domain.Category) (domain.SplitModel, error)
	Set(ctx context.Context, category domain.Category, shares []domain.Share) (domain.SplitModel, error)
	List(ctx context.Context) ([]domain.SplitModel, error)
}

type Payments interface {
	CalculateSplit(ctx context.Context, gross decimal.Decimal, category domain.Category, adj split.Adjustments) (split.Result, error)
	CreatePayment(ctx context.Context, in service.CreatePaymentInput) (*domain.Payment, error)
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ConfirmReceived(ctx context.Context, id string, autoSplit bool) (*domain.Payment, error)
	TransitionPayment(ctx context.Context, id string, next domain.PaymentStatus) (*domain.Payment, error)
	FlagPayment(ctx context.Context, id, reason string) (*domain.Payment, error)
	ReleasePayment(ctx context.Context, id string) (*domain.Payment, error)
	DeletePayment(ctx context.Context, id string, cascade bool) error
	ListLedgerEntries(ctx context.Context, paymentID string) ([]domain.LedgerEntry, error)
}

type Ledger interface {
	Approve(ctx context.Context, ids []string, operatorID *int64) domain.BulkResult
	MarkPaid(ctx context.Context, ids []string, paidAt *time.Time, operatorID *int64) domain.BulkResult
	Summarize(ctx context.Context, f domain.LedgerSummaryFilter) ([]domain.LedgerSummaryRow, error)
}

type Settlement interface {
	RunSettlementBatch(ctx context.Context, thresholdHours int) (domain.SettlementReport, error)
	ListRuns(ctx context.Context, limit int) ([]domain.SettlementReport, error)
	GetRun(ctx context.Context, runID string) (domain.SettlementReport, error)
}

type Pricing interface {
	QuotePrice(ctx context.Context, clientID string, listPrice decimal.Decimal) (domain.Quote, error)
	QuoteDeal(ctx context.Context, unit domain.UnitRef, clientID string, listPrice decimal.Decimal) (domain.Quote, error)
	RecordReferral(ctx context.Context, referrerID, referredID string, referringDept *string) (*domain.Client, error)
	CreateMou(ctx context.Context, in service.CreateMouInput) (*domain.Mou, error)
	GetMou(ctx context.Context, id string) (*domain.Mou, error)
	TransitionMou(ctx context.Context, id string, next domain.MouStatus) (*domain.Mou, error)
	ScheduleMouPayments(ctx context.Context, id string) ([]*domain.Payment, error)
}

// FileStore resolves archived report names to local paths.
type FileStore interface {
	Path(fileName string) (string, error)
}

// WebSocketHandler upgrades an authenticated request for the given operator.
type WebSocketHandler func(w http.ResponseWriter, r *http.Request, userID int64)

type Deps struct {
	SplitModels      SplitModels
	Payments         Payments
	Ledger           Ledger
	Settlement       Settlement
	Pricing          Pricing
	Files            FileStore
	WebSocket        WebSocketHandler
	DefaultThreshold int
	Log              logrus.FieldLogger
}

type Handler struct {
	models     SplitModels
	payments   Payments
	ledger     Ledger
	settlement Settlement
	pricing    Pricing
	files      FileStore
	ws         WebSocketHandler
	threshold  int
	validate   *validator.Validate
	log        logrus.FieldLogger
}

func NewHandler(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	threshold := d.DefaultThreshold
	if threshold <= 0 {
		threshold = 48
	}
	return &Handler{
		models:     d.SplitModels,
		payments:   d.Payments,
		ledger:     d.Ledger,
		settlement: d.Settlement,
		pricing:    d.Pricing,
		files:      d.Files,
		ws:         d.WebSocket,
		threshold:  threshold,
		validate:   newValidator(),
		log:        log,
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWithAuth(nil)
}

// InitRouterWithAuth builds the router. Health, metrics and archived files are
// public; everything else goes through authMiddleware when it is set.
func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		metrics.InstrumentHandler,
	)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		Success(w, "ok", map[string]string{"status": "up"})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/files/{file}", h.serveFile)

	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/ws", h.websocket)

		r.Post("/split/calculate", h.calculateSplit)
		r.Route("/split-models", func(r chi.Router) {
			r.Get("/", h.listSplitModels)
			r.Get("/{category}", h.getSplitModel)
			r.Put("/{category}", h.putSplitModel)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.createPayment)
			r.Get("/{id}", h.getPayment)
			r.Delete("/{id}", h.deletePayment)
			r.Post("/{id}/confirm", h.confirmPayment)
			r.Post("/{id}/status", h.transitionPayment)
			r.Post("/{id}/flag", h.flagPayment)
			r.Delete("/{id}/flag", h.releasePayment)
			r.Get("/{id}/ledger", h.paymentLedger)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/approve", h.approveLedger)
			r.Post("/mark-paid", h.markLedgerPaid)
			r.Get("/summary", h.ledgerSummary)
		})

		r.Route("/settlement", func(r chi.Router) {
			r.Post("/run", h.runSettlement)
			r.Get("/runs", h.listSettlementRuns)
			r.Get("/runs/{id}", h.getSettlementRun)
		})

		r.Post("/pricing/quote", h.quotePrice)
		r.Post("/pricing/deal-quote", h.quoteDeal)
		r.Post("/referrals", h.recordReferral)

		r.Route("/mous", func(r chi.Router) {
			r.Post("/", h.createMou)
			r.Get("/{id}", h.getMou)
			r.Post("/{id}/status", h.transitionMou)
			r.Post("/{id}/payments", h.scheduleMouPayments)
		})
	})

	return r
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		http.NotFound(w, r)
		return
	}
	file := chi.URLParam(r, "file")
	path, err := h.files.Path(file)
	if err != nil {
		ErrorBadRequest(w, "invalid file name")
		return
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		ErrorInternal(w, "failed to access file")
		return
	}

	orig := file
	if idx := strings.IndexByte(file, '_'); idx >= 0 {
		orig = file[idx+1:]
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", orig))
	http.ServeFile(w, r, path)
}

func (h *Handler) websocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		ErrorNotFound(w, "websocket disabled")
		return
	}
	userID, err := operatorID(r)
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}
	h.ws(w, r, userID)
}
