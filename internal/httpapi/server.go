package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/milleriumage/drarena/internal/arena"
	"github.com/milleriumage/drarena/internal/config"
	"github.com/milleriumage/drarena/internal/credits"
	"github.com/milleriumage/drarena/internal/live"
	"github.com/milleriumage/drarena/internal/observability"
	"github.com/milleriumage/drarena/internal/payments"
	"github.com/milleriumage/drarena/internal/persona"
)

type Server struct {
	cfg      config.Config
	sessions *arena.Manager
	adapter  live.Adapter
	catalog  *persona.Catalog
	credits  credits.Store
	payments *payments.Service
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *arena.Manager, adapter live.Adapter, catalog *persona.Catalog, creditsStore credits.Store, paymentsService *payments.Service, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		adapter:  adapter,
		catalog:  catalog,
		credits:  creditsStore,
		payments: paymentsService,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites cannot drive the user's mic
				// session if the server is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/personas", s.handleListPersonas)
	r.Get("/v1/credits/balance", s.handleCreditsBalance)

	r.Post("/v1/arena/session", s.handleCreateSession)
	r.Post("/v1/arena/session/{id}/end", s.handleEndSession)
	r.Get("/v1/arena/session/{id}", s.handleGetSession)
	r.Get("/v1/arena/session/ws", s.handleSessionWS)

	r.Post("/v1/payments/pix", s.handleCreatePayment)
	r.Get("/v1/payments/{id}/status", s.handlePaymentStatus)
	r.Post("/v1/payments/webhook", s.handlePaymentWebhook)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"payments_enabled": s.payments != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"payments_enabled": s.payments != nil,
	})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"personas": s.catalog.List(),
	})
}

func (s *Server) handleCreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := userIDOrAnonymous(r.URL.Query().Get("user_id"))
	balance, err := s.credits.Balance(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "credits_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

type createSessionRequest struct {
	UserID    string                 `json:"user_id"`
	PersonaID string                 `json:"persona_id"`
	Custom    *persona.CustomRequest `json:"custom,omitempty"`
}

type createSessionResponse struct {
	SessionID        string          `json:"session_id"`
	Status           arena.Status    `json:"status"`
	Persona          persona.Persona `json:"persona"`
	RemainingSeconds int             `json:"remaining_seconds"`
	Balance          int             `json:"balance"`
	WSPath           string          `json:"ws_path"`
}

// handleCreateSession resolves the opponent and debits its cost before
// any session exists. A failed debit leaves nothing behind to clean up.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID := userIDOrAnonymous(req.UserID)

	var p persona.Persona
	switch {
	case req.Custom != nil:
		built, err := persona.BuildCustom(*req.Custom, s.cfg.DefaultVoice)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_custom_persona", err.Error())
			return
		}
		p = built
	default:
		id := strings.TrimSpace(req.PersonaID)
		if id == "" {
			respondError(w, http.StatusBadRequest, "missing_persona", "persona_id or custom is required")
			return
		}
		found, ok := s.catalog.Get(id)
		if !ok {
			respondError(w, http.StatusNotFound, "persona_not_found", "unknown persona "+id)
			return
		}
		p = found
	}

	balance, err := s.credits.Debit(r.Context(), userID, p.CreditsCost)
	if err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			s.metrics.CreditsOps.WithLabelValues("debit", "insufficient").Inc()
			respondError(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this opponent")
			return
		}
		s.metrics.CreditsOps.WithLabelValues("debit", "error").Inc()
		respondError(w, http.StatusInternalServerError, "credits_unavailable", err.Error())
		return
	}
	s.metrics.CreditsOps.WithLabelValues("debit", "ok").Inc()

	sess := s.sessions.Create(userID, p)
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:        sess.ID,
		Status:           sess.Status,
		Persona:          sess.Persona,
		RemainingSeconds: sess.RemainingSeconds,
		Balance:          balance,
		WSPath:           "/v1/arena/session/ws?session_id=" + url.QueryEscape(sess.ID),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id, arena.StatusEnded)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("ended_rest").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type createPaymentRequest struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	Credits int    `json:"credits"`
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		respondError(w, http.StatusNotImplemented, "payments_disabled", "payment provider not configured")
		return
	}
	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondError(w, http.StatusBadRequest, "missing_email", "email is required for PIX")
		return
	}

	result, err := s.payments.Create(r.Context(), userIDOrAnonymous(req.UserID), req.Email, req.Credits)
	if err != nil {
		if errors.Is(err, payments.ErrUnknownPackage) {
			respondError(w, http.StatusBadRequest, "unknown_package", "no credit package with that size")
			return
		}
		respondError(w, http.StatusBadGateway, "payment_provider_error", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		respondError(w, http.StatusNotImplemented, "payments_disabled", "payment provider not configured")
		return
	}
	id := chi.URLParam(r, "id")
	result, err := s.payments.CheckStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			respondError(w, http.StatusNotFound, "payment_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "payment_provider_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type webhookRequest struct {
	Type   string         `json:"type"`
	Action string         `json:"action"`
	Data   map[string]any `json:"data"`
}

// handlePaymentWebhook acknowledges Mercado Pago notifications. The
// provider retries on non-2xx, so settlement errors are returned as
// 500 to get another delivery while malformed payloads are dropped
// with 200.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		respondError(w, http.StatusNotImplemented, "payments_disabled", "payment provider not configured")
		return
	}
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	if req.Type == "" {
		req.Type = r.URL.Query().Get("type")
	}
	if req.Action == "" {
		req.Action = r.URL.Query().Get("action")
	}
	if err := s.payments.HandleWebhook(r.Context(), req.Type, req.Action, req.Data); err != nil {
		respondError(w, http.StatusInternalServerError, "webhook_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func userIDOrAnonymous(raw string) string {
	userID := strings.TrimSpace(raw)
	if userID == "" {
		return "anonymous"
	}
	return userID
}
