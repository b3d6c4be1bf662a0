package lobby

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glubian/connect-four-server/domain"
)

var (
	ErrCapacityExceeded = errors.New("lobby capacity exceeded")
	ErrNotFound         = errors.New("lobby not found")
)

// Settings configures the registry and every lobby it creates. Tokens
// defaults to random UUIDs and Now to time.Now.
type Settings struct {
	MaxLobbies     int
	WaitingTimeout time.Duration
	GracePeriod    time.Duration
	Tokens         func() string
	Now            func() time.Time
}

// Registry maps invite tokens to live lobbies and enforces the lobby
// ceiling. Closed lobbies remove themselves through their OnClose hook.
type Registry struct {
	lobbies map[string]*Lobby
	mu      sync.RWMutex

	maxLobbies     int
	waitingTimeout time.Duration
	gracePeriod    time.Duration
	tokens         func() string
	now            func() time.Time
}

func NewRegistry(s Settings) *Registry {
	if s.Tokens == nil {
		s.Tokens = uuid.NewString
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Registry{
		lobbies:        make(map[string]*Lobby),
		maxLobbies:     s.MaxLobbies,
		waitingTimeout: s.WaitingTimeout,
		gracePeriod:    s.GracePeriod,
		tokens:         s.Tokens,
		now:            s.Now,
	}
}

// Create opens a lobby with host seated and registers it under a fresh
// token, drawing again on the rare collision. Fails with
// ErrCapacityExceeded at the lobby ceiling.
func (reg *Registry) Create(host domain.Connection) (*Lobby, error) {
	reg.mu.Lock()
	if len(reg.lobbies) >= reg.maxLobbies {
		reg.mu.Unlock()
		return nil, ErrCapacityExceeded
	}
	token := reg.tokens()
	for {
		if _, exists := reg.lobbies[token]; !exists {
			break
		}
		token = reg.tokens()
	}
	l := New(token, host, Options{
		WaitingTimeout: reg.waitingTimeout,
		GracePeriod:    reg.gracePeriod,
		Now:            reg.now,
		OnClose:        reg.Remove,
	})
	reg.lobbies[token] = l
	count := len(reg.lobbies)
	reg.mu.Unlock()

	slog.Info("lobby created", "lobby", token, "lobbies", count)
	return l, nil
}

func (reg *Registry) Lookup(token string) (*Lobby, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	l, ok := reg.lobbies[token]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

// Remove unregisters token. Removing an unknown token is a no-op.
func (reg *Registry) Remove(token string) {
	reg.mu.Lock()
	_, exists := reg.lobbies[token]
	delete(reg.lobbies, token)
	count := len(reg.lobbies)
	reg.mu.Unlock()

	if exists {
		slog.Info("lobby removed", "lobby", token, "lobbies", count)
	}
}

func (reg *Registry) Stats() (lobbies, players int) {
	ls := reg.snapshot()
	for _, l := range ls {
		players += l.Players()
	}
	return len(ls), players
}

// Run sweeps for expired lobbies every interval until ctx is done.
func (reg *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.sweep()
		}
	}
}

func (reg *Registry) sweep() {
	now := reg.now()
	for _, l := range reg.snapshot() {
		if l.ExpireIfIdle(now) {
			slog.Debug("lobby expired", "lobby", l.Token())
		}
	}
}

// CloseAll tears down every lobby, notifying clients with reason.
func (reg *Registry) CloseAll(reason string) {
	for _, l := range reg.snapshot() {
		l.Close(reason)
	}
}

// snapshot copies the lobby list so callers can take lobby locks without
// holding the registry lock.
func (reg *Registry) snapshot() []*Lobby {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ls := make([]*Lobby, 0, len(reg.lobbies))
	for _, l := range reg.lobbies {
		ls = append(ls, l)
	}
	return ls
}
