package relay

import (
	"context"
	"strings"
	"sync"
)

// Manager owns the set of live ChannelWorkers, replacing the reference
// implementation's process-wide map with an explicitly injected
// collaborator (spec.md §9).
type Manager struct {
	rc *Context

	mu      sync.Mutex
	workers map[string]*ChannelWorker
}

// NewManager constructs an empty Manager bound to rc.
func NewManager(rc *Context) *Manager {
	return &Manager{rc: rc, workers: make(map[string]*ChannelWorker)}
}

// SetSource creates the channel's worker if absent, then applies
// set_source (spec.md §6 control contract).
func (m *Manager) SetSource(ctx context.Context, channelID, url string) error {
	if channelID == "" || channelID == "." || channelID == ".." || strings.ContainsAny(channelID, "/\\\x00") {
		return ErrInvalidChannelID
	}

	w, err := m.getOrCreate(ctx, channelID)
	if err != nil {
		return err
	}
	return w.SetSource(url)
}

// StopSource applies stop_source to an existing channel.
func (m *Manager) StopSource(channelID string) error {
	w, err := m.get(channelID)
	if err != nil {
		return err
	}
	return w.StopSource()
}

// ResetSegments applies reset_window to an existing channel.
func (m *Manager) ResetSegments(channelID string) error {
	w, err := m.get(channelID)
	if err != nil {
		return err
	}
	return w.ResetWindow()
}

// DeleteChannel applies stop and then recursively removes the channel's
// output directory (spec.md §6 delete_channel).
func (m *Manager) DeleteChannel(channelID string) error {
	w, err := m.get(channelID)
	if err != nil {
		return err
	}

	if err := w.Stop(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.workers, channelID)
	m.mu.Unlock()

	return removeAll(m.rc.Paths.ChannelOutDir(channelID))
}

// Status returns the status snapshot of a single channel.
func (m *Manager) Status(channelID string) (Status, error) {
	w, err := m.get(channelID)
	if err != nil {
		return Status{}, err
	}
	return w.Status(), nil
}

// ListChannels returns a status snapshot for every known channel.
func (m *Manager) ListChannels() []Status {
	m.mu.Lock()
	workers := make([]*ChannelWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

// Shutdown stops every worker, for use during process shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := make([]*ChannelWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	for _, w := range workers {
		_ = w.Stop()
	}
}

func (m *Manager) get(channelID string) (*ChannelWorker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return w, nil
}

// getOrCreate returns the existing worker for channelID, or creates one
// if the manager is under its configured channel cap.
func (m *Manager) getOrCreate(ctx context.Context, channelID string) (*ChannelWorker, error) {
	m.mu.Lock()
	if w, ok := m.workers[channelID]; ok {
		m.mu.Unlock()
		return w, nil
	}
	if len(m.workers) >= m.rc.Cfg.MaxChannels {
		m.mu.Unlock()
		return nil, ErrTooManyChannels
	}

	w := newChannelWorker(channelID, m.rc)
	m.workers[channelID] = w
	m.mu.Unlock()

	go w.run(ctx)
	return w, nil
}
