package store

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/leonardotrapani/sttbench/internal/session"
)

// memoryStore keeps encoded copies so callers never share a result.
type memoryStore struct {
	mu      sync.RWMutex
	results map[string][]byte
	index   map[string]Summary
}

func NewMemory() Store {
	return &memoryStore{
		results: make(map[string][]byte),
		index:   make(map[string]Summary),
	}
}

func (s *memoryStore) Save(_ context.Context, res session.Result) error {
	if err := requireID(res); err != nil {
		return err
	}
	data, err := sonic.Marshal(res)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.Metadata.SessionID] = data
	s.index[res.Metadata.SessionID] = summarize(res)
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (session.Result, error) {
	s.mu.RLock()
	data, ok := s.results[id]
	s.mu.RUnlock()
	if !ok {
		return session.Result{}, notFound(id)
	}
	var res session.Result
	if err := sonic.Unmarshal(data, &res); err != nil {
		return session.Result{}, err
	}
	return res, nil
}

func (s *memoryStore) List(context.Context) ([]Summary, error) {
	s.mu.RLock()
	list := make([]Summary, 0, len(s.index))
	for _, sum := range s.index {
		list = append(list, sum)
	}
	s.mu.RUnlock()
	sortSummaries(list)
	return list, nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, id)
	delete(s.index, id)
	return nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
