package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

var testNow = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewConversationService_ValidatesDependencies(t *testing.T) {
	_, err := NewConversationService(nil, &fakeModel{}, Config{})
	require.Error(t, err)

	_, err = NewConversationService(newMemStore(), nil, Config{})
	require.Error(t, err)

	_, err = NewConversationService(newMemStore(), &fakeModel{}, Config{Scope: "weekly"})
	require.Error(t, err)
}

func TestNewConversationService_DefaultsToDailyScope(t *testing.T) {
	svc, err := NewConversationService(newMemStore(), &fakeModel{}, Config{MaxContextTurns: -3})
	require.NoError(t, err)
	require.Equal(t, domain.ScopeDaily, svc.scope)
	require.Zero(t, svc.maxTurns)
}

func TestHandle_EmptyUserID(t *testing.T) {
	store := newMemStore()
	model := &fakeModel{reply: "hi"}
	svc := newTestService(t, store, model, Config{Scope: domain.ScopeGlobal})

	_, err := svc.Handle(context.Background(), HandleInput{UserID: " ", Text: "hello", Now: testNow})
	expectUsecaseError(t, err, ErrorInvalidInput, "empty_user_id")
	require.Zero(t, model.calls)
	require.Zero(t, store.puts)
}

func TestHandle_AppendsUserAndModelTurns(t *testing.T) {
	for _, scope := range []domain.Scope{domain.ScopeGlobal, domain.ScopeDaily} {
		t.Run(string(scope), func(t *testing.T) {
			store := newMemStore()
			model := &fakeModel{reply: "RPA means robotic process automation."}
			svc := newTestService(t, store, model, Config{Scope: scope})
			key := domain.KeyFor(scope, "U1", testNow)
			prior := domain.History{domain.UserTurn("hi"), domain.ModelTurn("hello")}
			store.docs[docID(key.Collection, key.Key)] = prior

			out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "what is rpa?", Now: testNow})
			require.NoError(t, err)
			require.Equal(t, "RPA means robotic process automation.", out.Reply)
			require.False(t, out.Cleared)

			saved := store.docs[docID(key.Collection, key.Key)]
			require.Len(t, saved, len(prior)+2)
			require.Equal(t, domain.UserTurn("what is rpa?"), saved[2])
			require.Equal(t, domain.ModelTurn("RPA means robotic process automation."), saved[3])

			require.Equal(t, 1, model.calls)
			require.Equal(t, prior.Append(domain.UserTurn("what is rpa?")), model.turns)
			require.Equal(t, SystemInstruction, model.system)
		})
	}
}

func TestHandle_FirstMessageStartsEmptyHistory(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeModel{reply: "hello"}, Config{Scope: domain.ScopeDaily})

	_, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, domain.History{domain.UserTurn("hi"), domain.ModelTurn("hello")}, store.docs[docID("chat/U1", "20240310")])
}

func TestHandle_EmptyMessageIsContent(t *testing.T) {
	store := newMemStore()
	model := &fakeModel{reply: "?"}
	svc := newTestService(t, store, model, Config{Scope: domain.ScopeGlobal})

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, "?", out.Reply)
	require.Equal(t, domain.History{domain.UserTurn(""), domain.ModelTurn("?")}, store.docs[docID("chat", "U1")])
}

func TestHandle_ClearDeletesActiveKey(t *testing.T) {
	store := newMemStore()
	model := &fakeModel{reply: "unused"}
	svc := newTestService(t, store, model, Config{Scope: domain.ScopeGlobal})
	store.docs[docID("chat", "U1")] = domain.History{domain.UserTurn("hi"), domain.ModelTurn("hello")}

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "clear", Now: testNow})
	require.NoError(t, err)
	require.True(t, out.Cleared)
	require.Equal(t, "userId:U1 對話紀錄清空", out.Reply)
	require.Contains(t, out.Reply, "U1")
	require.Zero(t, model.calls)
	require.Zero(t, store.puts)
	require.False(t, store.has("chat", "U1"))

	require.Empty(t, svc.History(context.Background(), "U1", testNow))
}

func TestHandle_ClearIsCaseSensitiveAndExact(t *testing.T) {
	for _, text := range []string{"Clear", "CLEAR", " clear", "clear ", "clear please"} {
		t.Run(text, func(t *testing.T) {
			store := newMemStore()
			model := &fakeModel{reply: "ok"}
			svc := newTestService(t, store, model, Config{Scope: domain.ScopeGlobal})

			out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: text, Now: testNow})
			require.NoError(t, err)
			require.False(t, out.Cleared)
			require.Equal(t, 1, model.calls)
			require.Len(t, store.docs[docID("chat", "U1")], 2)
		})
	}
}

func TestHandle_ClearDeleteFailureStillReplies(t *testing.T) {
	store := newMemStore()
	store.deleteErr["U1"] = errBoom
	rec := newCountingRecorder()
	svc := newTestService(t, store, &fakeModel{}, Config{Scope: domain.ScopeGlobal}, WithRecorder(rec))

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "clear", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, "userId:U1 對話紀錄清空", out.Reply)
	require.Equal(t, 1, rec.storeErrors["delete"])
}

func TestHandle_ModelFailureUsesFallback(t *testing.T) {
	store := newMemStore()
	rec := newCountingRecorder()
	svc := newTestService(t, store, &fakeModel{err: errBoom}, Config{Scope: domain.ScopeGlobal}, WithRecorder(rec))

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, FallbackReply, out.Reply)
	require.NotEmpty(t, out.Reply)
	require.Equal(t, domain.History{domain.UserTurn("hi"), domain.ModelTurn(FallbackReply)}, store.docs[docID("chat", "U1")])
	require.Equal(t, 1, rec.modelErrors)
}

func TestHandle_BlankModelReplyUsesFallback(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeModel{reply: "  "}, Config{Scope: domain.ScopeGlobal})

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, FallbackReply, out.Reply)
}

func TestHandle_StoreReadFailureTreatedAsEmpty(t *testing.T) {
	store := newMemStore()
	store.getErr = errBoom
	model := &fakeModel{reply: "hello"}
	rec := newCountingRecorder()
	svc := newTestService(t, store, model, Config{Scope: domain.ScopeGlobal}, WithRecorder(rec))

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, "hello", out.Reply)
	require.Equal(t, domain.History{domain.UserTurn("hi")}, model.turns)
	require.Equal(t, 1, rec.storeErrors["get"])
}

func TestHandle_StoreWriteFailureStillReplies(t *testing.T) {
	store := newMemStore()
	store.putErr = errBoom
	rec := newCountingRecorder()
	svc := newTestService(t, store, &fakeModel{reply: "hello"}, Config{Scope: domain.ScopeGlobal}, WithRecorder(rec))

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, "hello", out.Reply)
	require.Equal(t, 1, store.puts)
	require.Equal(t, 1, rec.storeErrors["put"])
}

func TestHandle_DailyScopeRotatesStaleBuckets(t *testing.T) {
	store := newMemStore()
	for _, day := range []string{"20240307", "20240308", "20240309"} {
		store.docs[docID("chat/U1", day)] = domain.History{domain.UserTurn(day)}
	}
	svc := newTestService(t, store, &fakeModel{reply: "ok"}, Config{Scope: domain.ScopeDaily})

	_, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)

	require.False(t, store.has("chat/U1", "20240307"))
	require.False(t, store.has("chat/U1", "20240308"))
	require.True(t, store.has("chat/U1", "20240309"))
	require.True(t, store.has("chat/U1", "20240310"))
}

func TestHandle_DailyScopeDoesNotSendYesterday(t *testing.T) {
	store := newMemStore()
	store.docs[docID("chat/U1", "20240309")] = domain.History{domain.UserTurn("old"), domain.ModelTurn("older")}
	model := &fakeModel{reply: "ok"}
	svc := newTestService(t, store, model, Config{Scope: domain.ScopeDaily})

	_, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, domain.History{domain.UserTurn("hi")}, model.turns)
}

func TestHandle_GlobalScopeNeverRotates(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeModel{reply: "ok"}, Config{Scope: domain.ScopeGlobal})

	_, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi", Now: testNow})
	require.NoError(t, err)
	_, err = svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "clear", Now: testNow})
	require.NoError(t, err)
	require.Zero(t, store.lists)
}

func TestHandle_ClearInDailyScopeAlsoRotates(t *testing.T) {
	store := newMemStore()
	store.docs[docID("chat/U1", "20240301")] = domain.History{}
	store.docs[docID("chat/U1", "20240310")] = domain.History{domain.UserTurn("hi")}
	svc := newTestService(t, store, &fakeModel{}, Config{Scope: domain.ScopeDaily})

	out, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "clear", Now: testNow})
	require.NoError(t, err)
	require.True(t, out.Cleared)
	require.Empty(t, store.docs)
}

func TestHandle_ZeroNowUsesClock(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, &fakeModel{reply: "ok"}, Config{Scope: domain.ScopeDaily})
	svc.now = func() time.Time { return testNow }

	_, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "hi"})
	require.NoError(t, err)
	require.True(t, store.has("chat/U1", "20240310"))
}

func TestHandle_MaxContextTurnsTrimsModelWindowOnly(t *testing.T) {
	store := newMemStore()
	prior := domain.History{
		domain.UserTurn("q1"), domain.ModelTurn("a1"),
		domain.UserTurn("q2"), domain.ModelTurn("a2"),
	}
	store.docs[docID("chat", "U1")] = prior
	model := &fakeModel{reply: "a3"}
	svc := newTestService(t, store, model, Config{Scope: domain.ScopeGlobal, MaxContextTurns: 2})

	_, err := svc.Handle(context.Background(), HandleInput{UserID: "U1", Text: "q3", Now: testNow})
	require.NoError(t, err)
	require.Equal(t, domain.History{domain.UserTurn("q3")}, model.turns)
	require.Len(t, store.docs[docID("chat", "U1")], 6)
}

func TestHistory_MissingUserIsEmpty(t *testing.T) {
	svc := newTestService(t, newMemStore(), &fakeModel{}, Config{Scope: domain.ScopeDaily})

	history := svc.History(context.Background(), "nobody", testNow)
	require.NotNil(t, history)
	require.Empty(t, history)
}
