package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
	"github.com/nzukiegan/blaiz-loan-backend/internal/service"
	ws "github.com/nzukiegan/blaiz-loan-backend/internal/transport/websocket"
)

type LoanManager interface {
	Create(ctx context.Context, in service.CreateLoanInput) (*domain.Loan, error)
	Approve(ctx context.Context, loanID string) (*domain.Loan, error)
	Reject(ctx context.Context, loanID string) (*domain.Loan, error)
	Activate(ctx context.Context, loanID string) (*domain.Loan, error)
	Get(ctx context.Context, loanID string) (*domain.Loan, error)
	List(ctx context.Context) ([]domain.Loan, error)
	ListByClient(ctx context.Context, clientID string) ([]domain.Loan, error)
	AccruePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string) (*domain.Penalty, error)
	ListPenalties(ctx context.Context) ([]domain.Penalty, error)
	WaivePenalty(ctx context.Context, penaltyID string) (*domain.Penalty, error)
}

type PaymentRecorder interface {
	InitiatePush(ctx context.Context, in service.PushInput) (*service.PushReceipt, error)
	RecordManual(ctx context.Context, in service.ManualPaymentInput) (*domain.Payment, *domain.Loan, error)
	List(ctx context.Context) ([]domain.Payment, error)
}

type Reconciler interface {
	HandleCallback(ctx context.Context, envelope *service.CallbackEnvelope) error
	ResolveByPoll(ctx context.Context, reference string) (*domain.Payment, error)
}

type AnomalyRegister interface {
	List(ctx context.Context) ([]service.Anomaly, error)
}

type RegisterExporter interface {
	StartRegisterExport(ctx context.Context) (string, error)
	GetExport(ctx context.Context, exportID string) (*service.ExportStatus, error)
	ListExports(ctx context.Context) ([]service.ExportStatus, error)
}

type ClientStore interface {
	Create(ctx context.Context, client *domain.Client) error
	Get(ctx context.Context, id string) (*domain.Client, error)
	List(ctx context.Context) ([]domain.Client, error)
}

type Handler struct {
	loans    LoanManager
	payments PaymentRecorder
	recon    Reconciler
	anomaly  AnomalyRegister
	exports  RegisterExporter
	clients  ClientStore
	hub      *ws.Hub

	// filesDir serves locally stored register exports when set.
	filesDir string
}

func NewHandler(
	loans LoanManager,
	payments PaymentRecorder,
	recon Reconciler,
	anomaly AnomalyRegister,
	exports RegisterExporter,
	clientStore ClientStore,
	hub *ws.Hub,
	filesDir string,
) *Handler {
	return &Handler{
		loans:    loans,
		payments: payments,
		recon:    recon,
		anomaly:  anomaly,
		exports:  exports,
		clients:  clientStore,
		hub:      hub,
		filesDir: filesDir,
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "loan ledger service")
	})

	r.Route("/clients", func(r chi.Router) {
		r.Post("/", h.createClient)
		r.Get("/", h.listClients)
		r.Get("/{client_id}", h.getClient)
		r.Get("/{client_id}/loans", h.listClientLoans)
	})

	r.Route("/loans", func(r chi.Router) {
		r.Post("/", h.createLoan)
		r.Get("/", h.listLoans)
		r.Get("/{loan_id}", h.getLoan)
		r.Post("/{loan_id}/approve", h.approveLoan)
		r.Post("/{loan_id}/reject", h.rejectLoan)
		r.Post("/{loan_id}/activate", h.activateLoan)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.recordManualPayment)
		r.Get("/", h.listPayments)
	})

	r.Route("/mpesa", func(r chi.Router) {
		r.Post("/stkpush", h.initiateStkPush)
		r.Post("/callback", h.mpesaCallback)
		r.Get("/status/{reference}", h.paymentStatus)
	})

	r.Route("/penalties", func(r chi.Router) {
		r.Get("/", h.listPenalties)
		r.Post("/", h.accruePenalty)
		r.Post("/{penalty_id}/waive", h.waivePenalty)
	})

	r.Route("/recon", func(r chi.Router) {
		r.Get("/anomalies", h.listAnomalies)
		r.Post("/export", h.startExport)
		r.Get("/export", h.listExports)
		r.Get("/export/{export_id}", h.getExport)
	})

	if h.hub != nil {
		r.Get("/ws/operator", h.hub.HandleWebSocket)
	}

	if h.filesDir != "" {
		fs := http.StripPrefix("/files/", http.FileServer(http.Dir(h.filesDir)))
		r.Get("/files/*", fs.ServeHTTP)
	}

	return r
}

// respondError maps domain and ledger errors onto the response envelope.
func respondError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		ErrorBadRequest(w, vErr.Message)
	case errors.Is(err, ledger.ErrLoanNotFound),
		errors.Is(err, ledger.ErrPaymentNotFound),
		errors.Is(err, ledger.ErrPenaltyNotFound),
		errors.Is(err, ledger.ErrClientNotFound):
		ErrorNotFound(w, err.Error())
	case errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrDuplicateReference):
		ErrorConflict(w, err.Error())
	case errors.Is(err, clients.ErrGatewayRejected):
		ErrorBadGateway(w, err.Error())
	case errors.Is(err, clients.ErrGatewayUnavailable):
		Error(w, err.Error(), 503, http.StatusServiceUnavailable)
	default:
		ErrorInternal(w, "internal error")
	}
}
