package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"phai/internal/domain"
	"phai/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatService is the rendering boundary exposed by the coordinator.
type ChatService interface {
	SendTurn(ctx context.Context, text string) bool
	WaitIdle(ctx context.Context) error
	NewChat(ctx context.Context)
	LoadChat(ctx context.Context, id string) bool
	DeleteChat(ctx context.Context, id string) bool
	Snapshot() []domain.Turn
	Conversations() []domain.Conversation
	State() usecase.State
	CanSend() bool
	ActiveID() string
}

// Handler serves the chat over API Gateway proxy events. Sending a message
// blocks until the reply has been committed, so clients get settled text.
type Handler struct {
	chat   ChatService
	logger *slog.Logger
}

func NewHandler(chat ChatService, logger *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: chat, logger: logger}, nil
}

type sendRequest struct {
	Text string `json:"text"`
}

type conversationSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
	Turns     int    `json:"turns"`
}

type stateResponse struct {
	State          string                `json:"state"`
	CanSend        bool                  `json:"canSend"`
	ConversationID string                `json:"conversationId,omitempty"`
	Messages       []domain.Turn         `json:"messages"`
	Conversations  []conversationSummary `json:"conversations"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(event.Headers)
	log := h.logger.With("correlation_id", corrID, "method", event.HTTPMethod, "path", event.Path)

	segments := splitPath(event.Path)
	switch {
	case event.HTTPMethod == http.MethodGet && matches(segments, "state"):
		return h.ok(corrID), nil

	case event.HTTPMethod == http.MethodPost && matches(segments, "chats"):
		h.chat.NewChat(ctx)
		return h.ok(corrID), nil

	case event.HTTPMethod == http.MethodPost && len(segments) == 3 && segments[0] == "chats" && segments[2] == "load":
		if !h.chat.LoadChat(ctx, segments[1]) {
			return errorResp(corrID, ErrorNotFound, "conversation_not_found"), nil
		}
		return h.ok(corrID), nil

	case event.HTTPMethod == http.MethodDelete && len(segments) == 2 && segments[0] == "chats":
		if !h.chat.DeleteChat(ctx, segments[1]) {
			return errorResp(corrID, ErrorNotFound, "conversation_not_found"), nil
		}
		return h.ok(corrID), nil

	case event.HTTPMethod == http.MethodPost && matches(segments, "messages"):
		return h.send(ctx, log, corrID, event.Body), nil
	}
	return errorResp(corrID, ErrorNotFound, "route_not_found"), nil
}

func (h *Handler) send(ctx context.Context, log *slog.Logger, corrID, body string) events.APIGatewayProxyResponse {
	var req sendRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return errorResp(corrID, ErrorInvalidInput, "invalid_body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return errorResp(corrID, ErrorInvalidInput, "empty_text")
	}
	if h.chat.State() == usecase.StateUnavailable {
		return errorResp(corrID, ErrorUnavailable, "model_unavailable")
	}
	if !h.chat.SendTurn(ctx, req.Text) {
		return errorResp(corrID, ErrorBusy, "turn_in_progress")
	}
	if err := h.chat.WaitIdle(ctx); err != nil {
		log.Error("turn did not settle", "err", err)
		return errorResp(corrID, ErrorInternal, "turn_not_settled")
	}
	return h.ok(corrID)
}

func (h *Handler) ok(corrID string) events.APIGatewayProxyResponse {
	convs := h.chat.Conversations()
	summaries := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		summaries = append(summaries, conversationSummary{
			ID:        c.ID,
			Name:      c.DisplayName,
			CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
			Turns:     len(c.Turns),
		})
	}
	return jsonResp(corrID, http.StatusOK, stateResponse{
		State:          h.chat.State().String(),
		CanSend:        h.chat.CanSend(),
		ConversationID: h.chat.ActiveID(),
		Messages:       h.chat.Snapshot(),
		Conversations:  summaries,
	})
}

func errorResp(corrID string, code ErrorCode, reason string) events.APIGatewayProxyResponse {
	return jsonResp(corrID, code.status(), errorResponse{Error: string(code), Reason: reason})
}

func jsonResp(corrID string, status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(body),
	}
}

// correlationID returns the caller's correlation id, matching the header
// name case-insensitively, or a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matches(segments []string, want ...string) bool {
	if len(segments) != len(want) {
		return false
	}
	for i := range want {
		if segments[i] != want[i] {
			return false
		}
	}
	return true
}
