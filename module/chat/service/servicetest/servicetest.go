// Package servicetest provides recording and failure-injecting doubles for
// exercising the chat core without a transport or a real database.
package servicetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"PChat/data/store"
	"PChat/module/chat/model"
)

type Delivery struct {
	ConnID string
	Event  model.Event
}

// Sink records every delivery in order. Deliveries to closed connections are dropped.
type Sink struct {
	mu         sync.Mutex
	deliveries []Delivery
	closed     map[string]string
}

func NewSink() *Sink {
	return &Sink{closed: make(map[string]string)}
}

func (s *Sink) Send(connID string, ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.closed[connID]; gone {
		return
	}
	s.deliveries = append(s.deliveries, Delivery{ConnID: connID, Event: ev})
}

func (s *Sink) Broadcast(connIDs []string, ev model.Event) {
	for _, id := range connIDs {
		s.Send(id, ev)
	}
}

func (s *Sink) Close(connID string, reason string) {
	s.Send(connID, model.NewEvent(model.EventError, reason))
	s.mu.Lock()
	s.closed[connID] = reason
	s.mu.Unlock()
}

func (s *Sink) IsClosed(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.closed[connID]
	return ok
}

// Events returns what connID received, in order.
func (s *Sink) Events(connID string) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, d := range s.deliveries {
		if d.ConnID == connID {
			out = append(out, d.Event)
		}
	}
	return out
}

// Types returns the event types connID received, in order.
func (s *Sink) Types(connID string) []string {
	evs := s.Events(connID)
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

// Last returns the most recent event of type typ delivered to connID.
func (s *Sink) Last(connID, typ string) (model.Event, bool) {
	evs := s.Events(connID)
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == typ {
			return evs[i], true
		}
	}
	return model.Event{}, false
}

func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = nil
}

var ErrInjected = errors.New("injected store failure")

// FlakyStore wraps a Store and fails selected operations on demand.
type FlakyStore struct {
	store.Store
	FailAppend atomic.Bool
	FailQuery  atomic.Bool
	FailMark   atomic.Bool
	FailUsers  atomic.Bool
}

func NewFlakyStore(inner store.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

func (f *FlakyStore) AppendPublicMessage(ctx context.Context, msg *model.Message) error {
	if f.FailAppend.Load() {
		return ErrInjected
	}
	return f.Store.AppendPublicMessage(ctx, msg)
}

func (f *FlakyStore) AppendPrivateMessage(ctx context.Context, msg *model.PrivateMessage) error {
	if f.FailAppend.Load() {
		return ErrInjected
	}
	return f.Store.AppendPrivateMessage(ctx, msg)
}

func (f *FlakyStore) QueryRecentPublic(ctx context.Context, limit int) ([]*model.Message, error) {
	if f.FailQuery.Load() {
		return nil, ErrInjected
	}
	return f.Store.QueryRecentPublic(ctx, limit)
}

func (f *FlakyStore) QueryConversation(ctx context.Context, conversationID string, limit int) ([]*model.PrivateMessage, error) {
	if f.FailQuery.Load() {
		return nil, ErrInjected
	}
	return f.Store.QueryConversation(ctx, conversationID, limit)
}

func (f *FlakyStore) MarkConversationRead(ctx context.Context, conversationID string, recipientID int64) (int64, error) {
	if f.FailMark.Load() {
		return 0, ErrInjected
	}
	return f.Store.MarkConversationRead(ctx, conversationID, recipientID)
}

func (f *FlakyStore) FindOrCreateUser(ctx context.Context, username string) (*model.User, error) {
	if f.FailUsers.Load() {
		return nil, ErrInjected
	}
	return f.Store.FindOrCreateUser(ctx, username)
}

func (f *FlakyStore) Stats(ctx context.Context) (store.Stats, error) {
	if f.FailQuery.Load() {
		return store.Stats{}, ErrInjected
	}
	return f.Store.Stats(ctx)
}
