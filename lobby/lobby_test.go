package lobby

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glubian/connect-four-server/domain"
	"github.com/glubian/connect-four-server/game"
)

type mockConn struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	closed   bool
	sendErr  error
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

func (m *mockConn) wasClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func msgTypes(t *testing.T, conn *mockConn) []string {
	t.Helper()
	var out []string
	for _, raw := range conn.getReceived() {
		out = append(out, decode(t, raw)["type"].(string))
	}
	return out
}

func lastMsg(t *testing.T, conn *mockConn, wantType string) map[string]any {
	t.Helper()
	msgs := conn.getReceived()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := decode(t, msgs[i])
		if m["type"] == wantType {
			return m
		}
	}
	t.Fatalf("no %q message received", wantType)
	return nil
}

const (
	testWaitingTimeout = time.Minute
	testGracePeriod    = 30 * time.Second
)

func newTestLobby(clock *fakeClock) (*Lobby, *mockConn) {
	host := &mockConn{id: "host"}
	l := New("tok-1", host, Options{
		WaitingTimeout: testWaitingTimeout,
		GracePeriod:    testGracePeriod,
		Now:            clock.Now,
	})
	return l, host
}

func newActiveLobby(t *testing.T, clock *fakeClock) (*Lobby, *mockConn, *mockConn) {
	t.Helper()
	l, host := newTestLobby(clock)
	guest := &mockConn{id: "guest"}
	role, err := l.Join(guest)
	require.NoError(t, err)
	require.Equal(t, Guest, role)
	return l, host, guest
}

// winGame drives a vertical host win in column 0.
func winGame(t *testing.T, l *Lobby) {
	t.Helper()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Move(Host, 0))
		require.NoError(t, l.Move(Guest, 6))
	}
	require.NoError(t, l.Move(Host, 0))
	require.Equal(t, Finished, l.State())
}

func TestLobby_JoinStartsGame(t *testing.T) {
	l, host, guest := newActiveLobby(t, newFakeClock())

	assert.Equal(t, Active, l.State())
	assert.Equal(t, 2, l.Players())

	hostJoined := lastMsg(t, host, domain.TypeJoined)
	assert.Equal(t, "host", hostJoined["role"])
	assert.Equal(t, true, hostJoined["opponentPresent"])

	guestJoined := lastMsg(t, guest, domain.TypeJoined)
	assert.Equal(t, "guest", guestJoined["role"])

	for _, conn := range []*mockConn{host, guest} {
		state := lastMsg(t, conn, domain.TypeState)
		assert.Equal(t, "red", state["turn"])
		assert.Equal(t, "inProgress", state["status"])
		assert.EqualValues(t, 1, state["round"])
		assert.EqualValues(t, 0, state["moveCount"])
	}
}

func TestLobby_MoveBroadcastsState(t *testing.T) {
	l, host, guest := newActiveLobby(t, newFakeClock())

	require.NoError(t, l.Move(Host, 3))

	for _, conn := range []*mockConn{host, guest} {
		state := lastMsg(t, conn, domain.TypeState)
		assert.Equal(t, "yellow", state["turn"])
		assert.EqualValues(t, 1, state["moveCount"])
		assert.EqualValues(t, 3, state["lastColumn"])
	}

	require.NoError(t, l.Move(Guest, 3))
	gs := l.Game()
	assert.Equal(t, game.Red, gs.Board[3][0])
	assert.Equal(t, game.Yellow, gs.Board[3][1])
	assert.Equal(t, game.Red, gs.Turn)
}

func TestLobby_Move_Errors(t *testing.T) {
	clock := newFakeClock()

	tests := []struct {
		name  string
		setup func(t *testing.T) *Lobby
		role  Role
		col   int
		want  error
	}{
		{
			name: "before guest arrives",
			setup: func(t *testing.T) *Lobby {
				l, _ := newTestLobby(clock)
				return l
			},
			role: Host, col: 0, want: ErrNotActive,
		},
		{
			name: "out of turn",
			setup: func(t *testing.T) *Lobby {
				l, _, _ := newActiveLobby(t, clock)
				return l
			},
			role: Guest, col: 0, want: game.ErrWrongTurn,
		},
		{
			name: "column out of range",
			setup: func(t *testing.T) *Lobby {
				l, _, _ := newActiveLobby(t, clock)
				return l
			},
			role: Host, col: 9, want: game.ErrInvalidColumn,
		},
		{
			name: "after the game ended",
			setup: func(t *testing.T) *Lobby {
				l, _, _ := newActiveLobby(t, clock)
				winGame(t, l)
				return l
			},
			role: Guest, col: 1, want: ErrNotActive,
		},
		{
			name: "after close",
			setup: func(t *testing.T) *Lobby {
				l, _, _ := newActiveLobby(t, clock)
				l.Close(domain.ReasonShuttingDown)
				return l
			},
			role: Host, col: 0, want: ErrLobbyClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.setup(t)
			before := l.Game().MoveCount

			err := l.Move(tt.role, tt.col)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, l.Game().MoveCount)
		})
	}
}

func TestLobby_WinFinishesGame(t *testing.T) {
	l, host, guest := newActiveLobby(t, newFakeClock())

	winGame(t, l)

	for _, conn := range []*mockConn{host, guest} {
		state := lastMsg(t, conn, domain.TypeState)
		assert.Equal(t, "won", state["status"])
		assert.Equal(t, "red", state["winner"])
		assert.Len(t, state["winningLine"], 4)
	}
	assert.ErrorIs(t, l.Move(Guest, 1), ErrNotActive)
}

func TestLobby_JoinWhenFull(t *testing.T) {
	l, _, _ := newActiveLobby(t, newFakeClock())

	_, err := l.Join(&mockConn{id: "third"})

	assert.ErrorIs(t, err, ErrLobbyFull)
}

func TestLobby_JoinWhenClosed(t *testing.T) {
	l, _ := newTestLobby(newFakeClock())
	l.Close(domain.ReasonShuttingDown)

	_, err := l.Join(&mockConn{id: "late"})

	assert.ErrorIs(t, err, ErrLobbyClosed)
}

func TestLobby_DisconnectArmsGrace(t *testing.T) {
	clock := newFakeClock()
	l, host, guest := newActiveLobby(t, clock)

	l.Disconnect(guest)

	assert.Equal(t, Active, l.State())
	assert.Equal(t, 1, l.Players())

	left := lastMsg(t, host, domain.TypeOpponentLeft)
	wantDeadline := clock.Now().Add(testGracePeriod).UTC().Format(time.RFC3339)
	assert.Equal(t, wantDeadline, left["deadline"])
}

func TestLobby_ReconnectWithinGrace(t *testing.T) {
	clock := newFakeClock()
	l, host, guest := newActiveLobby(t, clock)
	require.NoError(t, l.Move(Host, 4))
	l.Disconnect(guest)
	clock.Advance(testGracePeriod / 2)

	returned := &mockConn{id: "guest-again"}
	role, err := l.Join(returned)

	require.NoError(t, err)
	assert.Equal(t, Guest, role)
	assert.Equal(t, 2, l.Players())

	joined := lastMsg(t, returned, domain.TypeJoined)
	assert.Equal(t, "guest", joined["role"])
	assert.Equal(t, true, joined["opponentPresent"])

	state := lastMsg(t, returned, domain.TypeState)
	assert.EqualValues(t, 1, state["moveCount"])
	assert.Equal(t, "yellow", state["turn"])

	assert.Contains(t, msgTypes(t, host), domain.TypeOpponentReturned)
}

func TestLobby_StaleDisconnectIgnored(t *testing.T) {
	clock := newFakeClock()
	l, _, guest := newActiveLobby(t, clock)
	l.Disconnect(guest)
	returned := &mockConn{id: "guest-again"}
	_, err := l.Join(returned)
	require.NoError(t, err)

	// the old connection's read pump reports in late
	l.Disconnect(guest)

	assert.Equal(t, 2, l.Players())
	require.NoError(t, l.Move(Host, 0))
	assert.EqualValues(t, 1, lastMsg(t, returned, domain.TypeState)["moveCount"])
}

func TestLobby_GraceExpiryClosesAndNotifies(t *testing.T) {
	clock := newFakeClock()
	var removed []string
	host := &mockConn{id: "host"}
	l := New("tok-1", host, Options{
		WaitingTimeout: testWaitingTimeout,
		GracePeriod:    testGracePeriod,
		Now:            clock.Now,
		OnClose:        func(token string) { removed = append(removed, token) },
	})
	guest := &mockConn{id: "guest"}
	_, err := l.Join(guest)
	require.NoError(t, err)

	l.Disconnect(guest)
	clock.Advance(testGracePeriod + time.Second)

	require.True(t, l.ExpireIfIdle(clock.Now()))

	assert.Equal(t, Closed, l.State())
	assert.Equal(t, domain.ReasonForfeit, lastMsg(t, host, domain.TypeClosed)["reason"])
	assert.True(t, host.wasClosed())
	assert.Equal(t, []string{"tok-1"}, removed)
}

func TestLobby_ReconnectAfterDeadline(t *testing.T) {
	clock := newFakeClock()
	l, host, guest := newActiveLobby(t, clock)
	l.Disconnect(guest)
	clock.Advance(testGracePeriod + time.Second)

	_, err := l.Join(&mockConn{id: "too-late"})

	assert.ErrorIs(t, err, ErrSlotExpired)
	assert.Equal(t, Closed, l.State())
	assert.Equal(t, domain.ReasonForfeit, lastMsg(t, host, domain.TypeClosed)["reason"])
}

func TestLobby_WaitingIdleExpiry(t *testing.T) {
	clock := newFakeClock()
	l, host := newTestLobby(clock)

	assert.False(t, l.ExpireIfIdle(clock.Now()))
	clock.Advance(testWaitingTimeout)
	assert.True(t, l.ExpireIfIdle(clock.Now()))

	assert.Equal(t, Closed, l.State())
	assert.Equal(t, domain.ReasonIdleTimeout, lastMsg(t, host, domain.TypeClosed)["reason"])
	assert.True(t, host.wasClosed())
}

func TestLobby_HostLeavesWhileWaiting(t *testing.T) {
	clock := newFakeClock()
	var removed []string
	host := &mockConn{id: "host"}
	l := New("tok-1", host, Options{
		WaitingTimeout: testWaitingTimeout,
		GracePeriod:    testGracePeriod,
		Now:            clock.Now,
		OnClose:        func(token string) { removed = append(removed, token) },
	})

	l.Disconnect(host)

	assert.Equal(t, Closed, l.State())
	assert.Equal(t, []string{"tok-1"}, removed)
}

func TestLobby_Rematch(t *testing.T) {
	l, host, guest := newActiveLobby(t, newFakeClock())

	assert.ErrorIs(t, l.Rematch(Host), ErrNotActive)

	winGame(t, l)
	require.NoError(t, l.Rematch(Host))
	assert.Equal(t, "host", lastMsg(t, guest, domain.TypeRematchRequested)["role"])
	assert.Equal(t, Finished, l.State())

	require.NoError(t, l.Rematch(Guest))

	assert.Equal(t, Active, l.State())
	assert.Equal(t, 2, l.Round())
	for _, conn := range []*mockConn{host, guest} {
		state := lastMsg(t, conn, domain.TypeState)
		assert.EqualValues(t, 2, state["round"])
		assert.EqualValues(t, 0, state["moveCount"])
		assert.Equal(t, "yellow", state["turn"], "rematch opens with the other color")
	}
	require.NoError(t, l.Move(Guest, 2))
}

func TestLobby_RematchRequestSurvivesReconnect(t *testing.T) {
	clock := newFakeClock()
	l, _, guest := newActiveLobby(t, clock)
	winGame(t, l)
	require.NoError(t, l.Rematch(Host))

	l.Disconnect(guest)
	returned := &mockConn{id: "guest-again"}
	_, err := l.Join(returned)
	require.NoError(t, err)

	assert.Equal(t, "host", lastMsg(t, returned, domain.TypeRematchRequested)["role"])
}

func TestLobby_SendFailureVacatesSeat(t *testing.T) {
	l, host, guest := newActiveLobby(t, newFakeClock())
	guest.setSendErr(errors.New("buffer full"))

	require.NoError(t, l.Move(Host, 0))

	assert.Equal(t, 1, l.Players())
	assert.True(t, guest.wasClosed())
	assert.Contains(t, msgTypes(t, host), domain.TypeOpponentLeft)
}

func TestLobby_CloseIsIdempotent(t *testing.T) {
	var calls int
	host := &mockConn{id: "host"}
	l := New("tok-1", host, Options{
		WaitingTimeout: testWaitingTimeout,
		GracePeriod:    testGracePeriod,
		OnClose:        func(string) { calls++ },
	})

	l.Close(domain.ReasonShuttingDown)
	l.Close(domain.ReasonShuttingDown)

	assert.Equal(t, 1, calls)
	var closedMsgs int
	for _, typ := range msgTypes(t, host) {
		if typ == domain.TypeClosed {
			closedMsgs++
		}
	}
	assert.Equal(t, 1, closedMsgs)
}

func TestLobby_ConcurrentMovesSerialize(t *testing.T) {
	l, _, _ := newActiveLobby(t, newFakeClock())

	const attempts = 10
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Move(Host, 0)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, wrongTurn int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, game.ErrWrongTurn):
			wrongTurn++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, wrongTurn)
	assert.Equal(t, 1, l.Game().MoveCount)
}
