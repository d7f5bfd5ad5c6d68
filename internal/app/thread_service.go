package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"coroner-assist/internal/store"
)

const sinkTimeout = 5 * time.Second

// ThreadSink receives every committed store change, e.g. to persist it.
type ThreadSink interface {
	Apply(ctx context.Context, ev store.Event) error
}

type ThreadService struct {
	store  *store.ThreadStore
	sink   ThreadSink
	logger *slog.Logger
}

// NewThreadService wraps st. When sink is non-nil it is installed as the
// store listener; sink failures are logged and never reach the caller.
func NewThreadService(st *store.ThreadStore, sink ThreadSink, logger *slog.Logger) *ThreadService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ThreadService{store: st, sink: sink, logger: logger}
	if sink != nil {
		st.SetListener(s.forward)
	}
	return s
}

func (s *ThreadService) forward(ev store.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.sink.Apply(ctx, ev); err != nil {
		s.logger.Error("thread sink failed", "kind", ev.Kind, "thread_id", ev.Thread.ID, "user_id", ev.Thread.UserID, "err", err)
	}
}

func (s *ThreadService) Create(t store.Thread) (store.Thread, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.UserID = strings.TrimSpace(t.UserID)
	if t.ID == "" || t.UserID == "" {
		return store.Thread{}, fmt.Errorf("%w: id and user_id are required", ErrInvalidInput)
	}
	return s.store.Create(t)
}

func (s *ThreadService) ListAll() map[string][]store.Thread {
	return s.store.ListAll()
}

func (s *ThreadService) ListByOwner(userID string) ([]store.Thread, error) {
	return s.store.ListByOwner(userID)
}

func (s *ThreadService) Get(userID, threadID string) (store.Thread, error) {
	return s.store.Get(userID, threadID)
}

// Update replaces the thread at (userID, threadID). The body may omit id and
// user_id; naming different ones is an error.
func (s *ThreadService) Update(userID, threadID string, t store.Thread) (store.Thread, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.UserID = strings.TrimSpace(t.UserID)
	return s.store.Update(userID, threadID, t)
}

func (s *ThreadService) Delete(userID, threadID string) (store.Thread, error) {
	return s.store.Delete(userID, threadID)
}

// Restore loads previously persisted threads without echoing them back to
// the sink.
func (s *ThreadService) Restore(threads []store.Thread) int {
	return s.store.Restore(threads)
}

// AppendExchange records one query/answer round on an existing thread along
// with the files uploaded for it. Nothing is written if the thread is gone.
func (s *ThreadService) AppendExchange(userID, threadID string, files []string, msgs ...store.Message) (store.Thread, error) {
	return s.store.Mutate(userID, threadID, func(t *store.Thread) error {
		t.Messages = append(t.Messages, msgs...)
		t.UploadedFiles = append(t.UploadedFiles, files...)
		return nil
	})
}
