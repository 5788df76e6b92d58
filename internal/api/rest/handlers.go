package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/homeprojects/lead-auction-exchange/internal/domain/errors"
	"github.com/homeprojects/lead-auction-exchange/internal/metrics"
	"github.com/homeprojects/lead-auction-exchange/internal/service/submission"
	"github.com/homeprojects/lead-auction-exchange/internal/service/webhook"
)

const maxBodyBytes = 1 << 20

// Pinger reports backing-store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the exchange's HTTP surface: lead submission, buyer
// webhooks, health, metrics.
type Handler struct {
	submissions *submission.Service
	webhooks    *webhook.Service
	db          Pinger
	metrics     *metrics.Metrics
	metricsPage http.Handler
	logger      *slog.Logger
}

// NewHandler wires the HTTP surface. metricsPage serves GET /metrics
// (promhttp); metrics may be nil.
func NewHandler(submissions *submission.Service, webhooks *webhook.Service, db Pinger, m *metrics.Metrics, metricsPage http.Handler, logger *slog.Logger) *Handler {
	return &Handler{
		submissions: submissions,
		webhooks:    webhooks,
		db:          db,
		metrics:     m,
		metricsPage: metricsPage,
		logger:      logger,
	}
}

// Routes builds the full middleware-wrapped handler chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/leads", h.handleSubmitLead)
	mux.HandleFunc("POST /webhooks/buyers/{buyerName}", h.handleWebhook)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if h.metricsPage != nil {
		mux.Handle("GET /metrics", h.metricsPage)
	}

	var handler http.Handler = mux
	handler = withLogging(h.logger, handler)
	handler = withRecovery(h.logger, handler)
	handler = withRequestID(handler)
	return handler
}

func (h *Handler) handleSubmitLead(w http.ResponseWriter, r *http.Request) {
	var req submission.SubmitRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, r, h.logger, apperrors.NewValidationError("MALFORMED_BODY", "request body is not valid JSON"))
		return
	}
	req.IPAddress = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.submissions.Submit(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if h.metrics != nil {
		h.metrics.LeadsSubmitted.WithLabelValues(string(result.Priority)).Inc()
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	buyerName := r.PathValue("buyerName")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, h.logger, apperrors.NewValidationError("MALFORMED_BODY", "failed to read request body"))
		return
	}

	receipt, err := h.webhooks.Process(r.Context(), buyerName, body, r.Header.Get(webhook.SignatureHeader))
	h.observeWebhook(body, err)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) observeWebhook(body []byte, err error) {
	if h.metrics == nil {
		return
	}
	var peek struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(body, &peek)
	if peek.Action == "" {
		peek.Action = "unknown"
	}
	code := http.StatusOK
	if err != nil {
		code = apperrors.GetStatusCode(err)
	}
	h.metrics.WebhooksServed.WithLabelValues(peek.Action, strconv.Itoa(code)).Inc()
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err.Error())
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the socket
// peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
