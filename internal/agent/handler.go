package agent

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/batch-assistant/internal/api"
	"github.com/ashureev/batch-assistant/internal/transport"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

const socketWriteTimeout = 5 * time.Second

// Handler serves the assistant over HTTP and WebSocket.
type Handler struct {
	service  *Service
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a handler for service.
func NewHandler(service *Service, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	h := &Handler{service: service, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Get("/ws/chat", h.ServeWS)
}

// HandleChat handles POST /chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)

	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Detail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Detail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	answer, err := h.service.Answer(r.Context(), req.Text())
	if errors.Is(err, ErrEmptyQuestion) {
		api.Detail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Chat request failed", "request_id", reqID, "error", err)
		api.Detail(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.Info("Chat request answered",
		"request_id", reqID,
		"channel", "request",
		"kind", answer.Kind,
		"rows", len(answer.Rows),
	)
	api.JSON(w, http.StatusOK, Payload(answer))
}

// ServeWS handles GET /ws/chat. Every text frame is answered with the typing
// signal followed by exactly one reply frame.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := r.Context()
	h.logger.Info("Chat socket connected", "remote", r.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Chat socket closed unexpectedly", "error", err)
			} else {
				h.logger.Info("Chat socket disconnected")
			}
			return
		}

		text := strings.TrimSpace(string(data))
		if text == "" {
			continue
		}

		if err := h.writeText(conn, transport.TypingSignal); err != nil {
			h.logger.Warn("Failed to send typing signal", "error", err)
			return
		}

		if h.cfg.TypingDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(h.cfg.TypingDelay):
			}
		}

		answer, err := h.service.Answer(ctx, text)
		if err != nil {
			h.logger.Warn("Socket question failed", "error", err)
			continue
		}
		if err := h.writeText(conn, SocketText(answer)); err != nil {
			h.logger.Warn("Failed to send socket reply", "error", err)
			return
		}
		h.logger.Info("Chat request answered", "channel", "persistent", "kind", answer.Kind, "rows", len(answer.Rows))
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) writeText(conn *websocket.Conn, text string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true // allow non-browser clients
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}
