// Package lobby pairs two connections over a shared connect-four game and
// tracks every live lobby in a registry. All lobby operations serialize on
// the lobby mutex; notifications go out while the lock is held, so every
// client observes state changes in the order they were applied.
package lobby

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glubian/connect-four-server/domain"
	"github.com/glubian/connect-four-server/game"
)

// State is the lobby lifecycle: Waiting for a guest, Active while the game
// runs, Finished once it ends (both seats kept for a rematch), Closed when
// torn down. Closed is terminal.
type State uint8

const (
	Waiting State = iota
	Active
	Finished
	Closed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Finished:
		return "finished"
	default:
		return "closed"
	}
}

// Role identifies a seat. The host created the lobby and plays red; the
// guest joined by token and plays yellow.
type Role uint8

const (
	Host Role = iota
	Guest
)

func (r Role) String() string {
	if r == Host {
		return "host"
	}
	return "guest"
}

func (r Role) other() Role {
	if r == Host {
		return Guest
	}
	return Host
}

func (r Role) color() game.Player {
	if r == Host {
		return game.Red
	}
	return game.Yellow
}

var (
	ErrLobbyFull   = errors.New("lobby full")
	ErrLobbyClosed = errors.New("lobby closed")
	ErrNotActive   = errors.New("lobby not in a state for this action")
	ErrSlotExpired = errors.New("reconnect window expired")
)

type slot struct {
	conn      domain.Connection
	connected bool
	lastSeen  time.Time
	deadline  time.Time
}

// Options carries per-lobby timeouts and hooks. Now defaults to time.Now;
// OnClose, when set, runs after the lobby reaches Closed.
type Options struct {
	WaitingTimeout time.Duration
	GracePeriod    time.Duration
	Now            func() time.Time
	OnClose        func(token string)
}

type Lobby struct {
	token string

	mu       sync.Mutex
	state    State
	game     game.State
	round    int
	starting game.Player
	slots    [2]slot
	rematch  [2]bool
	created  time.Time

	waitingTimeout time.Duration
	gracePeriod    time.Duration
	now            func() time.Time
	onClose        func(token string)
}

// New opens a lobby in Waiting with host seated and the red discs reserved
// for it.
func New(token string, host domain.Connection, opts Options) *Lobby {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Lobby{
		token:          token,
		state:          Waiting,
		game:           game.New(game.Red),
		round:          1,
		starting:       game.Red,
		waitingTimeout: opts.WaitingTimeout,
		gracePeriod:    opts.GracePeriod,
		now:            opts.Now,
		onClose:        opts.OnClose,
	}
	l.slots[Host] = slot{conn: host, connected: true, lastSeen: l.now()}
	l.created = l.now()
	return l
}

func (l *Lobby) Token() string { return l.token }

// Join seats conn. In Waiting it admits conn as the guest and starts the
// game. In Active or Finished it reconnects conn into a vacated seat whose
// grace window is still open, host seat first. A vacated seat past its
// deadline fails with ErrSlotExpired and closes the lobby; two occupied
// seats fail with ErrLobbyFull.
func (l *Lobby) Join(conn domain.Connection) (Role, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Closed:
		return 0, ErrLobbyClosed
	case Waiting:
		l.admitGuest(conn)
		return Guest, nil
	default:
		for _, role := range []Role{Host, Guest} {
			s := &l.slots[role]
			if s.connected {
				continue
			}
			if l.now().After(s.deadline) {
				l.closeLocked(domain.ReasonForfeit)
				return 0, ErrSlotExpired
			}
			l.reconnect(role, conn)
			return role, nil
		}
		return 0, ErrLobbyFull
	}
}

func (l *Lobby) admitGuest(conn domain.Connection) {
	l.slots[Guest] = slot{conn: conn, connected: true, lastSeen: l.now()}
	l.state = Active
	l.send(Host, domain.NewJoined(Host.String(), true))
	l.send(Guest, domain.NewJoined(Guest.String(), true))
	l.broadcastState()
	slog.Info("guest admitted", "lobby", l.token)
}

func (l *Lobby) reconnect(role Role, conn domain.Connection) {
	l.slots[role] = slot{conn: conn, connected: true, lastSeen: l.now()}
	l.send(role, domain.NewJoined(role.String(), l.slots[role.other()].connected))
	l.send(role, domain.NewState(l.round, l.game))
	if l.rematch[role.other()] {
		l.send(role, domain.NewRematchRequested(role.other().String()))
	}
	l.send(role.other(), domain.NewOpponentReturned())
	slog.Info("player reconnected", "lobby", l.token, "role", role.String())
}

// Move drops a disc for role. The new position is broadcast to both seats;
// a terminal position moves the lobby to Finished.
func (l *Lobby) Move(role Role, column int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Closed {
		return ErrLobbyClosed
	}
	if l.state != Active {
		return ErrNotActive
	}
	next, err := l.game.Apply(role.color(), column)
	if err != nil {
		return err
	}
	l.game = next
	if next.Status != game.InProgress {
		l.state = Finished
		slog.Info("game finished", "lobby", l.token,
			"status", next.Status.String(), "winner", next.Winner.String(), "moves", next.MoveCount)
	} else {
		slog.Debug("move applied", "lobby", l.token,
			"role", role.String(), "column", column, "moves", next.MoveCount)
	}
	l.broadcastState()
	return nil
}

// Rematch records role's wish for another game. The first request is
// relayed to the opponent; when both seats have asked, a fresh game starts
// with the opening color swapped.
func (l *Lobby) Rematch(role Role) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Closed {
		return ErrLobbyClosed
	}
	if l.state != Finished {
		return ErrNotActive
	}
	if l.rematch[role] {
		return nil
	}
	l.rematch[role] = true
	if !l.rematch[role.other()] {
		l.send(role.other(), domain.NewRematchRequested(role.String()))
		return nil
	}

	l.rematch = [2]bool{}
	l.round++
	l.starting = l.starting.Other()
	l.game = game.New(l.starting)
	l.state = Active
	l.broadcastState()
	slog.Info("rematch started", "lobby", l.token, "round", l.round)
	return nil
}

// Disconnect handles conn dropping. A stale conn that has since been
// replaced by a reconnect is ignored. The host leaving while Waiting
// closes the lobby; otherwise the seat is vacated, a grace deadline is
// armed and the opponent is told until when the seat may be reclaimed.
func (l *Lobby) Disconnect(conn domain.Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectLocked(conn)
}

func (l *Lobby) disconnectLocked(conn domain.Connection) {
	if l.state == Closed {
		return
	}
	role, ok := l.roleOf(conn)
	if !ok || !l.slots[role].connected {
		return
	}
	s := &l.slots[role]
	s.connected = false
	s.lastSeen = l.now()

	if l.state == Waiting {
		slog.Info("host left before a guest arrived", "lobby", l.token)
		l.closeLocked(domain.ReasonForfeit)
		return
	}

	s.deadline = l.now().Add(l.gracePeriod)
	l.send(role.other(), domain.NewOpponentLeft(s.deadline))
	slog.Info("player disconnected", "lobby", l.token,
		"role", role.String(), "deadline", s.deadline.UTC().Format(time.RFC3339))
}

// ExpireIfIdle closes the lobby when it has sat in Waiting past the
// waiting timeout, or when a vacated seat's grace deadline has passed.
// Reports whether the lobby was closed.
func (l *Lobby) ExpireIfIdle(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Closed:
		return false
	case Waiting:
		if now.Sub(l.created) >= l.waitingTimeout {
			slog.Info("lobby idle in waiting, expiring", "lobby", l.token)
			l.closeLocked(domain.ReasonIdleTimeout)
			return true
		}
	default:
		for _, role := range []Role{Host, Guest} {
			s := &l.slots[role]
			if !s.connected && now.After(s.deadline) {
				l.closeLocked(domain.ReasonForfeit)
				return true
			}
		}
	}
	return false
}

// Close tears the lobby down, notifying and closing any connected seats.
// Safe to call more than once.
func (l *Lobby) Close(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked(reason)
}

func (l *Lobby) closeLocked(reason string) {
	if l.state == Closed {
		return
	}
	l.state = Closed

	if data, err := json.Marshal(domain.NewClosed(reason)); err != nil {
		slog.Error("marshal closed message", "error", err)
	} else {
		for i := range l.slots {
			s := &l.slots[i]
			if s.connected && s.conn != nil {
				_ = s.conn.Send(data)
			}
		}
	}
	for i := range l.slots {
		s := &l.slots[i]
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.connected = false
	}

	slog.Info("lobby closed", "lobby", l.token, "reason", reason)
	if l.onClose != nil {
		l.onClose(l.token)
	}
}

// State returns the current lifecycle state.
func (l *Lobby) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Players counts connected seats.
func (l *Lobby) Players() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for i := range l.slots {
		if l.slots[i].connected {
			n++
		}
	}
	return n
}

// Game returns a copy of the current position.
func (l *Lobby) Game() game.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.game
}

// Round returns the rematch counter, starting at 1.
func (l *Lobby) Round() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.round
}

func (l *Lobby) roleOf(conn domain.Connection) (Role, bool) {
	for _, role := range []Role{Host, Guest} {
		if l.slots[role].conn == conn {
			return role, true
		}
	}
	return 0, false
}

func (l *Lobby) broadcastState() {
	msg := domain.NewState(l.round, l.game)
	l.send(Host, msg)
	l.send(Guest, msg)
}

// send marshals and delivers v to role's seat. Delivery is best effort; a
// send error means the client cannot keep up and vacates the seat through
// the normal disconnect path.
func (l *Lobby) send(role Role, v any) {
	s := &l.slots[role]
	if !s.connected || s.conn == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal message", "lobby", l.token, "error", err)
		return
	}
	if err := s.conn.Send(data); err != nil {
		slog.Warn("send failed, dropping connection",
			"lobby", l.token, "role", role.String(), "error", err)
		_ = s.conn.Close()
		l.disconnectLocked(s.conn)
	}
}
