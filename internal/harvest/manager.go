package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/governor"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/provider"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/validate"
)

// Options tunes every runner a Manager launches.
type Options struct {
	// PageTimeout is the ceiling for a single page fetch.
	PageTimeout time.Duration
	// MaxRetries is how many transient failures a page may survive before the
	// session fails.
	MaxRetries int
}

// StartRequest describes a new harvest.
type StartRequest struct {
	LookupKey  string
	LookupKind store.Kind
	Provider   string

	// Refresh updates provider and fetch metadata on records that already
	// exist instead of leaving them untouched.
	Refresh bool
}

// closedDone is handed out for sessions with no live runner.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Manager is the session registry: it launches runners, tracks the live ones
// and answers snapshot reads for all of them. Persisted session rows are the
// source of truth; the in-memory runner map only adds liveness.
type Manager struct {
	store    *store.Store
	governor *governor.Governor
	logger   *slog.Logger
	opts     Options

	mu      sync.Mutex
	clients map[string]provider.Client
	runners map[string]*Runner
}

// NewManager creates a Manager with no registered providers.
func NewManager(st *store.Store, gov *governor.Governor, logger *slog.Logger, opts Options) *Manager {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Manager{
		store:    st,
		governor: gov,
		logger:   logger,
		opts:     opts,
		clients:  make(map[string]provider.Client),
		runners:  make(map[string]*Runner),
	}
}

// RegisterClient makes a provider available for harvests and registers its
// request budget with the governor.
func (m *Manager) RegisterClient(c provider.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.Name()] = c
	m.governor.Register(c.Name(), c.Capabilities().RequestsPerSecond)
}

// Start creates a pending session and launches its runner. ctx is the
// process-lifetime context: cancelling it pauses the session. Fails with
// ErrSessionActive when a non-terminal session for the same lookup already
// exists, so the same stream is never harvested twice at once.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*store.Session, error) {
	key := validate.NormalizeDomain(output.StripANSI(req.LookupKey))
	if !validate.IsDomain(key) {
		return nil, fmt.Errorf("%w: must be a valid host name: %q", apperr.ErrInvalidInput, req.LookupKey)
	}
	kind, err := store.ParseKind(string(req.LookupKind))
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no client registered for provider %q", apperr.ErrInvalidInput, req.Provider)
	}
	if err := m.ensureNotActive(ctx, key, kind, req.Provider, ""); err != nil {
		return nil, err
	}

	sess := &store.Session{
		ID:         uuid.NewString(),
		LookupKey:  key,
		LookupKind: kind,
		Provider:   req.Provider,
		State:      store.StatePending,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Info("harvest started",
		"session", sess.ID, "key", key, "kind", kind, "provider", req.Provider)

	r := m.launch(ctx, client, sess, provider.Cursor{}, req.Refresh)
	return r.Snapshot(), nil
}

// Resume relaunches a paused or failed session from its persisted cursor.
func (m *Manager) Resume(ctx context.Context, id string, refresh bool) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.runners[id]; live {
		return nil, fmt.Errorf("%w: session %s is already running", apperr.ErrSessionActive, id)
	}
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case store.StatePaused, store.StateFailed:
	case store.StateRunning, store.StatePending:
		return nil, fmt.Errorf("%w: session %s is %s", apperr.ErrSessionActive, id, sess.State)
	default:
		return nil, fmt.Errorf("%w: cannot resume %s session %s", apperr.ErrInvalidState, sess.State, id)
	}

	client, ok := m.clients[sess.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: no client registered for provider %q", apperr.ErrInvalidInput, sess.Provider)
	}
	if err := m.ensureNotActive(ctx, sess.LookupKey, sess.LookupKind, sess.Provider, sess.ID); err != nil {
		return nil, err
	}
	cur, err := provider.ParseCursor(sess.Cursor)
	if err != nil {
		return nil, err
	}

	sess.State = store.StateRunning
	sess.LastError = ""
	if err := m.store.SaveProgress(ctx, sess); err != nil {
		return nil, err
	}
	m.logger.Info("harvest resumed", "session", sess.ID, "cursor", sess.Cursor)

	r := m.launch(ctx, client, sess, cur, refresh)
	return r.Snapshot(), nil
}

// Pause asks a live runner to stop at the next page boundary. The session
// stays resumable.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	r, ok := m.runners[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s has no active run", apperr.ErrInvalidState, id)
	}
	r.Pause()
	return nil
}

// Cancel ends a session for good. A live runner is stopped at its next page
// boundary and waited for; a parked one is marked cancelled directly. Records
// already harvested stay in the store.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	r, live := m.runners[id]
	m.mu.Unlock()

	if live {
		r.Cancel()
		select {
		case <-r.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.State.Terminal() {
		return fmt.Errorf("%w: session %s is already %s", apperr.ErrInvalidState, id, sess.State)
	}
	now := time.Now().UTC()
	sess.State = store.StateCancelled
	sess.FinishedAt = &now
	if err := m.store.SaveProgress(ctx, sess); err != nil {
		return err
	}
	m.logger.Info("session cancelled", "session", id)
	return nil
}

// Get returns a snapshot of the session: live counters for a running one, the
// persisted row otherwise.
func (m *Manager) Get(ctx context.Context, id string) (*store.Session, error) {
	m.mu.Lock()
	r, ok := m.runners[id]
	m.mu.Unlock()
	if ok {
		return r.Snapshot(), nil
	}
	return m.store.GetSession(ctx, id)
}

// List returns sessions matching f, with live sessions reflecting their
// latest in-memory counters.
func (m *Manager) List(ctx context.Context, f store.SessionFilter, limit int) ([]*store.Session, error) {
	sessions, err := m.store.ListSessions(ctx, f, limit)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	for i, s := range sessions {
		if r, ok := m.runners[s.ID]; ok {
			sessions[i] = r.Snapshot()
		}
	}
	m.mu.Unlock()
	return sessions, nil
}

// Recover parks sessions left running or pending by a dead process as paused.
// Call once at startup, before anything else touches the registry.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	n, err := m.store.RecoverInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("recovered interrupted sessions", "count", n)
	}
	return n, nil
}

// Wait returns a channel that closes once the session's runner has persisted
// its final state. Sessions without a live runner get an already closed
// channel.
func (m *Manager) Wait(id string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runners[id]; ok {
		return r.Done()
	}
	return closedDone
}

// ensureNotActive fails with ErrSessionActive when a non-terminal session for
// the lookup triple exists, ignoring exceptID.
func (m *Manager) ensureNotActive(ctx context.Context, key string, kind store.Kind, providerName, exceptID string) error {
	sessions, err := m.store.ListSessions(ctx, store.SessionFilter{
		LookupKey:  key,
		LookupKind: kind,
		Provider:   providerName,
	}, 0)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.ID == exceptID || s.State.Terminal() {
			continue
		}
		return fmt.Errorf("%w: session %s is %s for %s %q via %s",
			apperr.ErrSessionActive, s.ID, s.State, s.LookupKind, s.LookupKey, s.Provider)
	}
	return nil
}

// launch registers the runner and starts its loop. The runner removes itself
// once done; from then on the persisted row answers for the session.
func (m *Manager) launch(ctx context.Context, client provider.Client, sess *store.Session, cur provider.Cursor, refresh bool) *Runner {
	r := newRunner(m.store, m.governor, client, m.logger, m.opts, sess, cur, refresh)
	m.runners[sess.ID] = r
	go func() {
		r.run(ctx)
		m.mu.Lock()
		delete(m.runners, sess.ID)
		m.mu.Unlock()
	}()
	return r
}
