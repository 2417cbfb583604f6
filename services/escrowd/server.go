package escrowd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/events"
	"github.com/Ayush1832/tg-escrow-bot-sub001/core/mailbox"
	"github.com/Ayush1832/tg-escrow-bot-sub001/crypto"
	nativecommon "github.com/Ayush1832/tg-escrow-bot-sub001/native/common"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
)

const maxBodyBytes = 1 << 20

// ServerConfig wires the HTTP API.
type ServerConfig struct {
	Service        *Service
	Dispatcher     *Dispatcher
	Bus            *events.Bus
	Auth           *Authenticator
	Limiter        *RateLimiter
	TransportScope string
	OperatorScope  string
	Logger         *slog.Logger
}

// Server exposes trade actions over HTTP.
type Server struct {
	service        *Service
	dispatcher     *Dispatcher
	bus            *events.Bus
	auth           *Authenticator
	limiter        *RateLimiter
	transportScope string
	operatorScope  string
	logger         *slog.Logger
	router         http.Handler
}

// NewServer constructs the router.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	srv := &Server{
		service:        cfg.Service,
		dispatcher:     cfg.Dispatcher,
		bus:            cfg.Bus,
		auth:           cfg.Auth,
		limiter:        cfg.Limiter,
		transportScope: cfg.TransportScope,
		operatorScope:  cfg.OperatorScope,
		logger:         cfg.Logger,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(api chi.Router) {
		api.Use(s.auth.Middleware())
		api.Use(s.limiter.Middleware)

		api.Route("/v1", func(v1 chi.Router) {
			v1.Post("/trades", s.handleCreate)
			v1.Get("/trades", s.handleList)
			v1.Get("/trades/{id}", s.handleStatus)
			v1.Post("/trades/{id}/deposit-account", s.handleBind)
			v1.Post("/trades/{id}/confirm", s.tradeAction(s.service.ConfirmDelivery))
			v1.Post("/trades/{id}/dispute", s.tradeAction(s.service.RaiseDispute))
			v1.Post("/trades/{id}/resolve", s.handleResolve)
			v1.Post("/trades/{id}/cancel", s.tradeAction(s.service.Cancel))
			v1.Post("/trades/{id}/claim", s.tradeAction(s.service.ClaimExpired))
			v1.Post("/trades/{id}/emergency-withdraw", s.handleWithdraw)
			v1.Post("/trades/{id}/retry", s.tradeAction(s.service.RetryPayout))
			v1.Get("/stream", s.handleStream)

			v1.Group(func(transport chi.Router) {
				transport.Use(requireScope(s.transportScope))
				transport.Post("/trades/{id}/deposits", s.handleDeposit)
				transport.Post("/transfers/result", s.handleTransferResult)
			})
			v1.With(requireScope(s.operatorScope)).Get("/trades/{id}/audit", s.handleAudit)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(requireScope(s.operatorScope))
			admin.Post("/pause", s.handlePause(true))
			admin.Post("/resume", s.handlePause(false))
			admin.Get("/status", s.handleAdminStatus)
		})
	})
	return r
}

func requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || !id.HasScope(scope) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an action error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrTradeNotFound):
		return http.StatusNotFound
	case escrow.IsAuthorization(err):
		return http.StatusForbidden
	case escrow.IsValidation(err),
		errors.Is(err, escrow.ErrDepositMismatch),
		errors.Is(err, escrow.ErrInvalidFundingChannel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrModulePaused), errors.Is(err, mailbox.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case escrow.IsRejection(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, dst)
}

func callFrom(r *http.Request) Call {
	call := Call{RequestID: chimw.GetReqID(r.Context())}
	if id, ok := IdentityFromContext(r.Context()); ok {
		call.Caller = id.Account
	}
	return call
}

func tradeIDParam(w http.ResponseWriter, r *http.Request) ([32]byte, bool) {
	id, err := parseTradeID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return id, false
	}
	return id, true
}

func (s *Server) respondTrade(w http.ResponseWriter, status int, id [32]byte) {
	view, err := s.service.Status(id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, status, NewTradeResponse(view))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "paused": s.service.Paused()})
}

// tradeAction adapts a caller-only action to a handler that answers with the
// updated trade.
func (s *Server) tradeAction(action func(context.Context, Call, [32]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := tradeIDParam(w, r)
		if !ok {
			return
		}
		if err := action(r.Context(), callFrom(r), id); err != nil {
			s.writeActionError(w, err)
			return
		}
		s.respondTrade(w, http.StatusOK, id)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	def, err := req.Definition()
	if err != nil {
		if escrow.IsValidation(err) {
			s.writeActionError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.service.Create(r.Context(), callFrom(r), def)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewTradeResponse(view))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	call := callFrom(r)
	views, err := s.service.TradesFor(call.Caller)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	out := make([]TradeResponse, 0, len(views))
	for _, view := range views {
		out = append(out, NewTradeResponse(view))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	s.respondTrade(w, http.StatusOK, id)
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	var req AccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := parseAccountField("account", req.Account)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	if err := s.service.BindDepositAccount(r.Context(), callFrom(r), id, account); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondTrade(w, http.StatusOK, id)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	var req DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	sender, err := parseAccountField("sender", req.Sender)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	subaccount, err := parseAccountField("subaccount", req.Subaccount)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	deposit := escrow.Deposit{Amount: amount, Sender: sender, Subaccount: subaccount}
	if err := s.service.Deposit(r.Context(), callFrom(r), id, deposit); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondTrade(w, http.StatusOK, id)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var toBuyer bool
	switch strings.ToLower(strings.TrimSpace(req.Outcome)) {
	case "buyer":
		toBuyer = true
	case "seller":
	default:
		writeError(w, http.StatusBadRequest, `outcome must be "buyer" or "seller"`)
		return
	}
	if err := s.service.Resolve(r.Context(), callFrom(r), id, toBuyer); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondTrade(w, http.StatusOK, id)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	var req AccountRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	var recipient [20]byte
	if strings.TrimSpace(req.Account) != "" {
		parsed, err := parseAccountField("account", req.Account)
		if err != nil {
			s.writeActionError(w, err)
			return
		}
		recipient = parsed
	}
	if err := s.service.EmergencyWithdraw(r.Context(), callFrom(r), id, recipient); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondTrade(w, http.StatusOK, id)
}

func (s *Server) handleTransferResult(w http.ResponseWriter, r *http.Request) {
	var req TransferResultRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := parseTradeID(req.TradeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call := callFrom(r)
	call.Name = "transport"
	result := escrow.TransferResult{Token: strings.TrimSpace(req.Token), Delivered: req.Delivered}
	if err := s.service.ReportTransfer(r.Context(), call, id, result); err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondTrade(w, http.StatusOK, id)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.Audit(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("load audit entries", "trade", tradeHex(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.service.SetPaused(r.Context(), callFrom(r), paused)
		if s.dispatcher != nil {
			if paused {
				s.dispatcher.Pause()
			} else {
				s.dispatcher.Resume()
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AdminStatus is the body of GET /admin/status.
type AdminStatus struct {
	Paused      bool              `json:"paused"`
	Dispatcher  *DispatcherStatus `json:"dispatcher,omitempty"`
	Subscribers int               `json:"subscribers"`
	Operator    string            `json:"operator"`
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	status := AdminStatus{Paused: s.service.Paused()}
	if s.dispatcher != nil {
		snapshot := s.dispatcher.Status()
		status.Dispatcher = &snapshot
	}
	if s.bus != nil {
		status.Subscribers = s.bus.Subscribers()
	}
	if id, ok := IdentityFromContext(r.Context()); ok {
		status.Operator = crypto.FormatAccount(id.Account)
	}
	writeJSON(w, http.StatusOK, status)
}
