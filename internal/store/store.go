// Package store keeps every owner's threads in process memory.
//
// The owner map is guarded by an RWMutex and each owner's list by its own
// mutex, so operations on different owners run in parallel while operations
// on one owner are serialised. Values handed out are deep copies.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrOwnerNotFound  = errors.New("user threads not found")
	ErrThreadNotFound = errors.New("thread not found")
	ErrDuplicate      = errors.New("thread with this id already exists for this user")
	ErrIDMismatch     = errors.New("thread id cannot be changed")
	ErrInvalidThread  = errors.New("thread id and user id are required")
)

// EventKind names the change an Event describes.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventDelete EventKind = "delete"
)

type Event struct {
	Kind   EventKind `json:"kind"`
	Thread Thread    `json:"thread"`
}

// Listener is notified after every successful mutation while the owner lock
// is still held, so events for one owner arrive in commit order. It must not
// call back into the store.
type Listener func(Event)

type ownerThreads struct {
	mu      sync.Mutex
	threads []Thread
}

type ThreadStore struct {
	mu       sync.RWMutex
	owners   map[string]*ownerThreads
	listener Listener
}

func New() *ThreadStore {
	return &ThreadStore{owners: make(map[string]*ownerThreads)}
}

// SetListener installs the change listener. Call it before serving traffic.
func (s *ThreadStore) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *ThreadStore) owner(userID string) (*ownerThreads, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.owners[userID]
	return o, ok
}

func (s *ThreadStore) ownerOrCreate(userID string) *ownerThreads {
	if o, ok := s.owner(userID); ok {
		return o
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[userID]
	if !ok {
		o = &ownerThreads{}
		s.owners[userID] = o
	}
	return o
}

func (s *ThreadStore) notify(kind EventKind, t Thread) {
	s.mu.RLock()
	l := s.listener
	s.mu.RUnlock()
	if l != nil {
		l(Event{Kind: kind, Thread: t})
	}
}

func (o *ownerThreads) indexOf(threadID string) int {
	for i := range o.threads {
		if o.threads[i].ID == threadID {
			return i
		}
	}
	return -1
}

func (s *ThreadStore) Create(t Thread) (Thread, error) {
	if t.ID == "" || t.UserID == "" {
		return Thread{}, ErrInvalidThread
	}
	o := s.ownerOrCreate(t.UserID)

	o.mu.Lock()
	if o.indexOf(t.ID) >= 0 {
		o.mu.Unlock()
		return Thread{}, fmt.Errorf("%w: %s", ErrDuplicate, t.ID)
	}
	stored := t.Clone()
	o.threads = append(o.threads, stored)
	s.notify(EventUpsert, stored.Clone())
	o.mu.Unlock()

	return stored.Clone(), nil
}

// ListAll returns every known owner's threads, including owners whose list
// has become empty through deletes.
func (s *ThreadStore) ListAll() map[string][]Thread {
	s.mu.RLock()
	owners := make(map[string]*ownerThreads, len(s.owners))
	for id, o := range s.owners {
		owners[id] = o
	}
	s.mu.RUnlock()

	out := make(map[string][]Thread, len(owners))
	for id, o := range owners {
		o.mu.Lock()
		out[id] = cloneAll(o.threads)
		o.mu.Unlock()
	}
	return out
}

// Owners returns the known owner ids in sorted order.
func (s *ThreadStore) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.owners))
	for id := range s.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len counts threads across all owners.
func (s *ThreadStore) Len() int {
	s.mu.RLock()
	owners := make([]*ownerThreads, 0, len(s.owners))
	for _, o := range s.owners {
		owners = append(owners, o)
	}
	s.mu.RUnlock()

	n := 0
	for _, o := range owners {
		o.mu.Lock()
		n += len(o.threads)
		o.mu.Unlock()
	}
	return n
}

func (s *ThreadStore) ListByOwner(userID string) ([]Thread, error) {
	o, ok := s.owner(userID)
	if !ok {
		return nil, ErrOwnerNotFound
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return cloneAll(o.threads), nil
}

func (s *ThreadStore) Get(userID, threadID string) (Thread, error) {
	var out Thread
	err := s.withThread(userID, threadID, func(o *ownerThreads, i int) error {
		out = o.threads[i].Clone()
		return nil
	})
	return out, err
}

// Update replaces the stored thread wholesale. The stored id and owner are
// kept; a replacement naming a different id is rejected. A missing thread is
// reported before any mismatch.
func (s *ThreadStore) Update(userID, threadID string, t Thread) (Thread, error) {
	var stored Thread
	err := s.withThread(userID, threadID, func(o *ownerThreads, i int) error {
		if t.ID != "" && t.ID != threadID {
			return fmt.Errorf("%w: %s -> %s", ErrIDMismatch, threadID, t.ID)
		}
		if t.UserID != "" && t.UserID != userID {
			return fmt.Errorf("%w: owner %s -> %s", ErrIDMismatch, userID, t.UserID)
		}
		replacement := t.Clone()
		replacement.ID = threadID
		replacement.UserID = userID
		o.threads[i] = replacement
		stored = replacement.Clone()
		s.notify(EventUpsert, stored.Clone())
		return nil
	})
	if err != nil {
		return Thread{}, err
	}
	return stored, nil
}

func (s *ThreadStore) Delete(userID, threadID string) (Thread, error) {
	var removed Thread
	err := s.withThread(userID, threadID, func(o *ownerThreads, i int) error {
		removed = o.threads[i]
		o.threads = append(o.threads[:i:i], o.threads[i+1:]...)
		s.notify(EventDelete, removed.Clone())
		return nil
	})
	if err != nil {
		return Thread{}, err
	}
	return removed.Clone(), nil
}

// AppendMessage appends msgs to the thread in order.
func (s *ThreadStore) AppendMessage(userID, threadID string, msgs ...Message) (Thread, error) {
	return s.Mutate(userID, threadID, func(t *Thread) error {
		t.Messages = append(t.Messages, msgs...)
		return nil
	})
}

// Mutate runs fn against the stored thread while holding the owner lock. If
// fn returns an error nothing is changed. fn must not change the id or owner.
func (s *ThreadStore) Mutate(userID, threadID string, fn func(t *Thread) error) (Thread, error) {
	var stored Thread
	err := s.withThread(userID, threadID, func(o *ownerThreads, i int) error {
		work := o.threads[i].Clone()
		if err := fn(&work); err != nil {
			return err
		}
		work.ID = threadID
		work.UserID = userID
		o.threads[i] = work
		stored = work.Clone()
		s.notify(EventUpsert, stored.Clone())
		return nil
	})
	if err != nil {
		return Thread{}, err
	}
	return stored, nil
}

// Restore bulk-loads threads without notifying the listener. Threads whose
// id already exists for the owner are skipped.
func (s *ThreadStore) Restore(threads []Thread) int {
	loaded := 0
	for _, t := range threads {
		if t.ID == "" || t.UserID == "" {
			continue
		}
		o := s.ownerOrCreate(t.UserID)
		o.mu.Lock()
		if o.indexOf(t.ID) < 0 {
			o.threads = append(o.threads, t.Clone())
			loaded++
		}
		o.mu.Unlock()
	}
	return loaded
}

func (s *ThreadStore) withThread(userID, threadID string, fn func(o *ownerThreads, i int) error) error {
	o, ok := s.owner(userID)
	if !ok {
		return ErrOwnerNotFound
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.indexOf(threadID)
	if i < 0 {
		return ErrThreadNotFound
	}
	return fn(o, i)
}

func cloneAll(threads []Thread) []Thread {
	out := make([]Thread, len(threads))
	for i := range threads {
		out[i] = threads[i].Clone()
	}
	return out
}
