package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"chat-relay/internal/domain"
)

// HistoryStore is the document store holding turn histories.
type HistoryStore interface {
	Get(ctx context.Context, collection, key string) (domain.History, bool, error)
	Put(ctx context.Context, collection, key string, history domain.History) error
	Delete(ctx context.Context, collection, key string) error
	ListKeys(ctx context.Context, collection string) ([]string, error)
}

// ModelClient generates one reply for an ordered turn sequence.
type ModelClient interface {
	Generate(ctx context.Context, turns domain.History, systemInstruction string) (string, error)
}

// Recorder receives counters for degraded paths. Implemented by
// *observability.Metrics.
type Recorder interface {
	ObserveModelError()
	ObserveStoreError(op string)
	ObserveRotated(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveModelError()       {}
func (nopRecorder) ObserveStoreError(string) {}
func (nopRecorder) ObserveRotated(int)       {}

type Config struct {
	Scope domain.Scope
	// MaxContextTurns caps how many stored turns are sent to the model.
	// Zero sends everything.
	MaxContextTurns int
}

type Option func(*ConversationService)

func WithLogger(l *slog.Logger) Option {
	return func(s *ConversationService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *ConversationService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// ConversationService owns every history write. Loads and saves are
// read-then-overwrite with no locking, so two messages from the same user
// processed concurrently may lose one update. That is an accepted
// limitation of the store contract.
type ConversationService struct {
	store    HistoryStore
	model    ModelClient
	scope    domain.Scope
	maxTurns int
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
}

type HandleInput struct {
	UserID string
	Text   string
	// Now defaults to the current time when zero.
	Now time.Time
}

type HandleOutput struct {
	Reply   string
	Cleared bool
}

func NewConversationService(store HistoryStore, model ModelClient, cfg Config, opts ...Option) (*ConversationService, error) {
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	if model == nil {
		return nil, errors.New("usecase: model client must not be nil")
	}
	switch cfg.Scope {
	case "":
		cfg.Scope = domain.ScopeDaily
	case domain.ScopeDaily, domain.ScopeGlobal:
	default:
		return nil, errors.Newf("usecase: unknown history scope %q", cfg.Scope)
	}
	if cfg.MaxContextTurns < 0 {
		cfg.MaxContextTurns = 0
	}

	s := &ConversationService{
		store:    store,
		model:    model,
		scope:    cfg.Scope,
		maxTurns: cfg.MaxContextTurns,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handle processes one inbound message and always produces exactly one
// reply. Store and model failures degrade to log lines; the only error
// returned is for a missing user id.
func (s *ConversationService) Handle(ctx context.Context, in HandleInput) (HandleOutput, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return HandleOutput{}, newError(ErrorInvalidInput, "empty_user_id", nil)
	}
	now := in.Now
	if now.IsZero() {
		now = s.now()
	}

	key := domain.KeyFor(s.scope, in.UserID, now)
	history := s.History(ctx, in.UserID, now)

	var out HandleOutput
	if isClearCommand(in.Text) {
		s.clear(ctx, key)
		out = HandleOutput{Reply: clearReply(in.UserID), Cleared: true}
	} else {
		out = HandleOutput{Reply: s.converse(ctx, key, history, in.Text)}
	}

	if s.scope == domain.ScopeDaily {
		s.Rotate(ctx, in.UserID, now)
	}
	return out, nil
}

// History loads the active history for userID at now. A missing document or
// a read failure yields an empty history.
func (s *ConversationService) History(ctx context.Context, userID string, now time.Time) domain.History {
	key := domain.KeyFor(s.scope, userID, now)
	history, ok, err := s.store.Get(ctx, key.Collection, key.Key)
	if err != nil {
		s.recorder.ObserveStoreError("get")
		s.logger.Warn("history load failed, continuing with empty history", "key", key.String(), "err", err)
		return domain.History{}
	}
	if !ok || history == nil {
		return domain.History{}
	}
	return history
}

func (s *ConversationService) clear(ctx context.Context, key domain.HistoryKey) {
	if err := s.store.Delete(ctx, key.Collection, key.Key); err != nil {
		s.recorder.ObserveStoreError("delete")
		s.logger.Error("history delete failed", "key", key.String(), "err", err)
		return
	}
	s.logger.Info("history cleared", "key", key.String())
}

func (s *ConversationService) converse(ctx context.Context, key domain.HistoryKey, history domain.History, text string) string {
	history = history.Append(domain.UserTurn(text))

	reply, err := s.model.Generate(ctx, modelWindow(history, s.maxTurns), SystemInstruction)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err == nil {
			err = errors.New("empty model reply")
		}
		s.recorder.ObserveModelError()
		s.logger.Error("model call failed, using fallback reply", "key", key.String(), "err", err)
		reply = FallbackReply
	}
	history = history.Append(domain.ModelTurn(reply))

	// Last write wins: a concurrent message from the same user may have
	// written this key since it was loaded.
	if err := s.store.Put(ctx, key.Collection, key.Key, history); err != nil {
		s.recorder.ObserveStoreError("put")
		s.logger.Error("history save failed", "key", key.String(), "turns", len(history), "err", err)
	}
	return reply
}
