package voiceprint

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory Store implementation. Data is lost on
// restart; intended for tests and ephemeral use.
//
// It is safe for concurrent use. The single RWMutex satisfies the
// per-identity visibility rule trivially: a Put holds the write lock
// for the whole version swap.
type Memory struct {
	mu       sync.RWMutex
	versions map[string][]*Voiceprint // identity → ascending versions
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{versions: make(map[string][]*Voiceprint)}
}

func (m *Memory) Put(_ context.Context, vp *Voiceprint) error {
	if err := validIdentity(vp.Identity); err != nil {
		return err
	}
	rec := vp.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.State = StateActive

	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.versions[vp.Identity]
	rec.Version = len(history) + 1
	if n := len(history); n > 0 && history[n-1].State == StateActive {
		history[n-1].State = StateSuperseded
	}
	m.versions[vp.Identity] = append(history, rec)
	return nil
}

func (m *Memory) GetActive(_ context.Context, identity string) (*Voiceprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.versions[identity]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	latest := history[len(history)-1]
	if latest.State != StateActive {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

func (m *Memory) History(_ context.Context, identity string) ([]*Voiceprint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.versions[identity]
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*Voiceprint, len(history))
	for i, vp := range history {
		out[i] = vp.Clone()
	}
	return out, nil
}

func (m *Memory) Revoke(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.versions[identity]
	if len(history) == 0 {
		return ErrNotFound
	}
	for _, vp := range history {
		vp.State = StateRevoked
	}
	return nil
}

func (m *Memory) List(_ context.Context) iter.Seq2[Summary, error] {
	return func(yield func(Summary, error) bool) {
		m.mu.RLock()
		summaries := make([]Summary, 0, len(m.versions))
		for _, history := range m.versions {
			summaries = append(summaries, summarize(history[len(history)-1]))
		}
		m.mu.RUnlock()

		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].Identity < summaries[j].Identity
		})
		for _, s := range summaries {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func (m *Memory) Close() error { return nil }
