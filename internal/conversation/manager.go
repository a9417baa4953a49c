package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/search"
	"github.com/rcliao/memtier/internal/store"
)

// Manager keeps independent conversations in memory and persists them
// through a store. Conversations never share items or archives.
type Manager struct {
	store store.Store
	cfg   Config
	deps  Deps
	log   logging.Logger

	loads singleflight.Group

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewManager returns a manager over st. A nil st keeps conversations in memory only.
func NewManager(st store.Store, cfg Config, deps Deps) *Manager {
	return &Manager{
		store: st,
		cfg:   cfg,
		deps:  deps,
		log:   logging.OrNop(deps.Logger),
		convs: make(map[string]*Conversation),
	}
}

// depsFor fills in cross-conversation archive search when the store offers it.
func (m *Manager) depsFor(id string) Deps {
	d := m.deps
	if d.External != nil {
		return d
	}
	as, ok := m.store.(store.ArchiveSearcher)
	if !ok {
		return d
	}
	limit := m.cfg.Search.MaxResults
	d.External = search.ExternalFunc(func(ctx context.Context, q string) ([]model.SearchResult, error) {
		return as.SearchArchived(ctx, q, id, limit)
	})
	return d
}

// Create starts an empty conversation. An empty id gets a generated one.
func (m *Manager) Create(id string) (*Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; ok {
		return nil, fmt.Errorf("create %s: %w", id, model.ErrExists)
	}
	c, err := New(id, m.cfg, m.depsFor(id))
	if err != nil {
		return nil, err
	}
	m.convs[id] = c
	m.log.Debug("conversation %s created", id)
	return c, nil
}

// Import replaces conversation id with a restored state.
func (m *Manager) Import(id string, st model.State) (*Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}
	c, err := FromState(id, st, m.cfg, m.depsFor(id))
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	old := m.convs[id]
	m.convs[id] = c
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return c, nil
}

// Get returns conversation id, loading it from the store on first use.
// Concurrent loads of the same id share one store read.
func (m *Manager) Get(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	c, ok := m.convs[id]
	m.mu.Unlock()
	if ok {
		return c, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, model.ErrNotFound)
	}

	v, err, _ := m.loads.Do(id, func() (any, error) {
		m.mu.Lock()
		if c, ok := m.convs[id]; ok {
			m.mu.Unlock()
			return c, nil
		}
		m.mu.Unlock()

		st, err := m.store.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("conversation %s: %w", id, err)
		}
		c, err := FromState(id, st, m.cfg, m.depsFor(id))
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.convs[id] = c
		m.mu.Unlock()
		m.log.Debug("conversation %s loaded: %d items", id, len(st.Items))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conversation), nil
}

// GetOrCreate returns conversation id, creating it when the store has no copy.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Conversation, error) {
	if id != "" {
		c, err := m.Get(ctx, id)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	}
	c, err := m.Create(id)
	if errors.Is(err, model.ErrExists) {
		return m.Get(ctx, id)
	}
	return c, err
}

// Save persists conversation id.
func (m *Manager) Save(ctx context.Context, id string) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	c, ok := m.convs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("save %s: %w", id, model.ErrNotFound)
	}
	if err := m.store.Save(ctx, id, c.Export()); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	return nil
}

// Delete drops conversation id from memory and the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	c, inMemory := m.convs[id]
	delete(m.convs, id)
	m.mu.Unlock()
	if inMemory {
		c.Close()
	}
	if m.store == nil {
		if !inMemory {
			return fmt.Errorf("delete %s: %w", id, model.ErrNotFound)
		}
		return nil
	}
	err := m.store.Delete(ctx, id)
	if errors.Is(err, model.ErrNotFound) && inMemory {
		return nil
	}
	return err
}

// List returns saved conversations plus any only held in memory.
func (m *Manager) List(ctx context.Context) ([]store.ConversationInfo, error) {
	var out []store.ConversationInfo
	seen := make(map[string]bool)
	if m.store != nil {
		saved, err := m.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, ci := range saved {
			seen[ci.ID] = true
		}
		out = saved
	}

	m.mu.Lock()
	var extra []store.ConversationInfo
	for id, c := range m.convs {
		if seen[id] {
			continue
		}
		st := c.Stats()
		extra = append(extra, store.ConversationInfo{
			ID:         id,
			Items:      st.Items,
			Archived:   st.Archived,
			TotalChars: st.TotalChars,
			BudgetMax:  st.BudgetMax,
		})
	}
	m.mu.Unlock()
	sort.Slice(extra, func(i, j int) bool { return extra[i].ID < extra[j].ID })
	return append(out, extra...), nil
}

// Close saves and closes every conversation, then closes the store.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	convs := m.convs
	m.convs = make(map[string]*Conversation)
	m.mu.Unlock()

	var errs []error
	for id, c := range convs {
		c.Close()
		if m.store == nil {
			continue
		}
		if err := m.store.Save(ctx, id, c.Export()); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", id, err))
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
