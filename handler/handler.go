package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"chat-relay/internal/domain"
	"chat-relay/internal/integrations/line"
	"chat-relay/internal/observability"
	"chat-relay/internal/usecase"
)

const (
	headerSignature     = "X-Line-Signature"
	headerCorrelationID = "X-Correlation-Id"
)

// Gateway verifies inbound deliveries and sends replies.
type Gateway interface {
	VerifyAndDecode(body []byte, signature string) ([]domain.MessageEvent, error)
	Reply(ctx context.Context, replyToken, text string) error
	BotUserID(ctx context.Context) (string, error)
}

// Conversation turns one user message into one reply.
type Conversation interface {
	Handle(ctx context.Context, in usecase.HandleInput) (usecase.HandleOutput, error)
}

// ReplyMode controls which group and room messages are answered.
type ReplyMode string

const (
	// ReplyAlways answers every text message.
	ReplyAlways ReplyMode = "always"
	// ReplyMention answers group and room messages only when the bot is
	// mentioned. One-to-one chats are always answered.
	ReplyMention ReplyMode = "mention"
)

func ParseReplyMode(s string) (ReplyMode, bool) {
	switch ReplyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReplyAlways:
		return ReplyAlways, true
	case ReplyMention:
		return ReplyMention, true
	default:
		return "", false
	}
}

type Config struct {
	ReplyMode ReplyMode
}

type Option func(*Webhook)

func WithLogger(l *slog.Logger) Option {
	return func(h *Webhook) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(h *Webhook) { h.metrics = m }
}

// Webhook processes LINE webhook deliveries. The Lambda and net/http entry
// points both funnel into Process.
type Webhook struct {
	gateway      Gateway
	conversation Conversation
	replyMode    ReplyMode
	logger       *slog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

// Event outcomes recorded per decoded message event.
const (
	outcomeReplied      = "replied"
	outcomeReplyFailed  = "reply_failed"
	outcomeFailed       = "failed"
	outcomeNotText      = "ignored_not_text"
	outcomeNoUser       = "ignored_no_user"
	outcomeNotMentioned = "ignored_not_mentioned"
)

func NewHandler(gateway Gateway, conversation Conversation, cfg Config, opts ...Option) (*Webhook, error) {
	if gateway == nil {
		return nil, errors.New("handler: gateway must not be nil")
	}
	if conversation == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	mode, ok := ParseReplyMode(string(cfg.ReplyMode))
	if !ok {
		return nil, errors.Newf("handler: unknown reply mode %q", cfg.ReplyMode)
	}

	h := &Webhook{
		gateway:      gateway,
		conversation: conversation,
		replyMode:    mode,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Process verifies one delivery and handles every message event in it, in
// order. It returns the HTTP status to answer with, and the rejection error
// when the delivery failed verification or decoding. Per-event failures are
// logged and never change the status.
func (h *Webhook) Process(ctx context.Context, body []byte, signature string) (int, error) {
	logger := loggerFrom(ctx, h.logger)

	evts, err := h.gateway.VerifyAndDecode(body, signature)
	if err != nil {
		status, _ := mapGatewayError(err)
		logger.Warn("webhook rejected", "status", status, "err", err)
		h.metrics.ObserveWebhook(status)
		return status, err
	}

	for _, ev := range evts {
		outcome := h.handleEvent(ctx, logger, ev)
		h.metrics.ObserveEvent(outcome)
	}
	h.metrics.ObserveWebhook(http.StatusOK)
	return http.StatusOK, nil
}

func (h *Webhook) handleEvent(ctx context.Context, logger *slog.Logger, ev domain.MessageEvent) string {
	if !ev.IsText {
		return outcomeNotText
	}
	if ev.UserID == "" {
		return outcomeNoUser
	}
	if !h.shouldAnswer(ctx, logger, ev) {
		return outcomeNotMentioned
	}

	out, err := h.conversation.Handle(ctx, usecase.HandleInput{
		UserID: ev.UserID,
		Text:   ev.Text,
		Now:    h.now(),
	})
	if err != nil {
		if code, ok := usecase.CodeOf(err); ok {
			logger.Warn("conversation rejected", "user_id", ev.UserID, "code", code, "err", err)
		} else {
			logger.Error("conversation failed", "user_id", ev.UserID, "err", err)
		}
		return outcomeFailed
	}

	if err := h.gateway.Reply(ctx, ev.ReplyToken, out.Reply); err != nil {
		h.metrics.ObserveReplyError()
		logger.Error("reply failed", "user_id", ev.UserID, "err", err)
		return outcomeReplyFailed
	}
	logger.Info("replied", "user_id", ev.UserID, "source", ev.SourceType, "cleared", out.Cleared)
	return outcomeReplied
}

func (h *Webhook) shouldAnswer(ctx context.Context, logger *slog.Logger, ev domain.MessageEvent) bool {
	if h.replyMode != ReplyMention || ev.SourceType == domain.SourceUser {
		return true
	}
	botID, err := h.gateway.BotUserID(ctx)
	if err != nil {
		logger.Warn("bot user id unavailable, skipping group message", "err", err)
		return false
	}
	return ev.Mentions(botID)
}

// Handle is the AWS Lambda entry point for API Gateway proxy events.
func (h *Webhook) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	ctx = withLogger(ctx, h.logger.With("correlation_id", correlationID))

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			h.metrics.ObserveWebhook(http.StatusBadRequest)
			return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: codeMalformedPayload}), nil
		}
		body = decoded
	}

	status, err := h.Process(ctx, body, headerValue(req.Headers, headerSignature))
	if err != nil {
		_, code := mapGatewayError(err)
		return jsonResponse(status, correlationID, errorResponse{Error: code}), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":      "text/plain; charset=utf-8",
			headerCorrelationID: correlationID,
		},
		Body: "OK",
	}, nil
}

const (
	codeInvalidSignature = "INVALID_SIGNATURE"
	codeMalformedPayload = "MALFORMED_PAYLOAD"
	codeInternal         = "INTERNAL"
)

func mapGatewayError(err error) (int, string) {
	switch {
	case errors.Is(err, line.ErrInvalidSignature):
		return http.StatusBadRequest, codeInvalidSignature
	case errors.Is(err, line.ErrMalformedPayload):
		return http.StatusBadRequest, codeMalformedPayload
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// headerValue looks up a header case-insensitively, since API Gateway does
// not normalise header names.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

type loggerKey struct{}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}
