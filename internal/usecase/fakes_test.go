package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

// memStore is an in-memory HistoryStore keyed by "collection|key".
type memStore struct {
	docs      map[string]domain.History
	getErr    error
	putErr    error
	deleteErr map[string]error
	listErr   error
	puts      int
	deletes   []string
	lists     int
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]domain.History{}, deleteErr: map[string]error{}}
}

func docID(collection, key string) string { return collection + "|" + key }

func (m *memStore) Get(_ context.Context, collection, key string) (domain.History, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	h, ok := m.docs[docID(collection, key)]
	return h, ok, nil
}

func (m *memStore) Put(_ context.Context, collection, key string, history domain.History) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.docs[docID(collection, key)] = history
	return nil
}

func (m *memStore) Delete(_ context.Context, collection, key string) error {
	m.deletes = append(m.deletes, docID(collection, key))
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	delete(m.docs, docID(collection, key))
	return nil
}

func (m *memStore) ListKeys(_ context.Context, collection string) ([]string, error) {
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var keys []string
	for id := range m.docs {
		c, k, _ := strings.Cut(id, "|")
		if c == collection {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memStore) has(collection, key string) bool {
	_, ok := m.docs[docID(collection, key)]
	return ok
}

// fakeModel records every call and answers with reply or err.
type fakeModel struct {
	reply  string
	err    error
	calls  int
	turns  domain.History
	system string
}

func (f *fakeModel) Generate(_ context.Context, turns domain.History, systemInstruction string) (string, error) {
	f.calls++
	f.turns = append(domain.History(nil), turns...)
	f.system = systemInstruction
	return f.reply, f.err
}

type countingRecorder struct {
	modelErrors int
	storeErrors map[string]int
	rotated     int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{storeErrors: map[string]int{}}
}

func (c *countingRecorder) ObserveModelError()          { c.modelErrors++ }
func (c *countingRecorder) ObserveStoreError(op string) { c.storeErrors[op]++ }
func (c *countingRecorder) ObserveRotated(n int)        { c.rotated += n }

var errBoom = errors.New("boom")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, store HistoryStore, model ModelClient, cfg Config, opts ...Option) *ConversationService {
	t.Helper()
	svc, err := NewConversationService(store, model, cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return svc
}
