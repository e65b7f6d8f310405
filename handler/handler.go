// Package handler exposes the WhatsApp webhook over HTTP and feeds inbound
// messages onto the scheduler thread.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"courier-dispatch/internal/channel"
	"courier-dispatch/internal/integrations/whatsapp"
	"courier-dispatch/internal/scheduler"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerSignature     = "X-Hub-Signature-256"

	defaultMaxBodyBytes = 1 << 20
)

const (
	codeInvalidInput = "INVALID_INPUT"
	codeForbidden    = "FORBIDDEN"
	codeUpstream     = "UPSTREAM_ERROR"
)

// Publisher delivers an inbound event to its listeners.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev channel.Event) bool
}

// Secret resolves a credential on demand.
type Secret interface {
	Value(ctx context.Context) (string, error)
}

type Config struct {
	Scheduler scheduler.Scheduler
	Bus       Publisher
	// VerifyToken answers the subscription handshake.
	VerifyToken Secret
	// AppSecret, when set, requires every delivery to carry a valid
	// X-Hub-Signature-256.
	AppSecret    Secret
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type Handler struct {
	cfg Config
}

type receivedResponse struct {
	Received int `json:"received"`
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Scheduler == nil || cfg.Bus == nil {
		return nil, errors.New("handler: scheduler and bus must not be nil")
	}
	if cfg.VerifyToken == nil {
		return nil, errors.New("handler: verify token must not be nil")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg}, nil
}

// Routes returns the HTTP surface: the webhook on /webhook and a liveness
// probe on /healthz.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", h.verify)
	mux.HandleFunc("POST /webhook", h.receive)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func correlationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(headerCorrelationID)); id != "" {
		return id
	}
	return uuid.NewString()
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	w.Header().Set(headerCorrelationID, cid)

	token, err := h.cfg.VerifyToken.Value(r.Context())
	if err != nil {
		h.cfg.Logger.Error("failed to resolve verify token", "correlation_id", cid, "err", err)
		writeError(w, http.StatusBadGateway, codeUpstream, cid)
		return
	}
	challenge, ok := whatsapp.VerifyChallenge(r.URL.Query(), token)
	if !ok {
		writeError(w, http.StatusForbidden, codeForbidden, cid)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	cid := correlationID(r)
	w.Header().Set(headerCorrelationID, cid)
	logger := h.cfg.Logger.With("correlation_id", cid)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		logger.Warn("failed to read webhook body", "err", err)
		writeError(w, http.StatusBadRequest, codeInvalidInput, cid)
		return
	}

	if h.cfg.AppSecret != nil {
		secret, err := h.cfg.AppSecret.Value(r.Context())
		if err != nil {
			logger.Error("failed to resolve app secret", "err", err)
			writeError(w, http.StatusBadGateway, codeUpstream, cid)
			return
		}
		if !whatsapp.VerifySignature(body, r.Header.Get(headerSignature), secret) {
			logger.Warn("rejected webhook with bad signature")
			writeError(w, http.StatusForbidden, codeForbidden, cid)
			return
		}
	}

	events, err := whatsapp.ParseWebhook(body)
	if err != nil {
		logger.Warn("failed to parse webhook", "err", err)
		writeError(w, http.StatusBadRequest, codeInvalidInput, cid)
		return
	}

	// The request context ends with the response; processing outlives it.
	ctx := context.WithoutCancel(r.Context())
	for _, ev := range events {
		h.cfg.Scheduler.Post(func() {
			if !h.cfg.Bus.Publish(ctx, channel.EventMessageReceived, ev) {
				logger.Debug("inbound message not consumed", "counterparty", ev.SenderID, "message_id", ev.MessageID)
			}
		})
	}

	writeJSON(w, http.StatusOK, receivedResponse{Received: len(events)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, cid string) {
	writeJSON(w, status, errorResponse{Error: code, CorrelationID: cid})
}
