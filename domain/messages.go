package domain

import (
	"time"

	"github.com/glubian/connect-four-server/game"
)

const (
	TypeCreate  = "create"
	TypeJoin    = "join"
	TypeMove    = "move"
	TypeRematch = "rematch"
	TypePing    = "ping"

	TypeCreated          = "created"
	TypeJoined           = "joined"
	TypeState            = "state"
	TypeOpponentLeft     = "opponentLeft"
	TypeOpponentReturned = "opponentReturned"
	TypeRematchRequested = "rematchRequested"
	TypeError            = "error"
	TypeClosed           = "closed"
	TypePong             = "pong"
)

// ClientMessage is the single inbound envelope. Type is one of TypeCreate,
// TypeJoin, TypeMove, TypeRematch or TypePing; anything else is a protocol
// error. Optional fields are pointers so absence is distinguishable.
type ClientMessage struct {
	Type   string   `json:"type"`
	Token  string   `json:"token,omitempty"`
	Column *int     `json:"column,omitempty"`
	Sent   *float64 `json:"sent,omitempty"`
}

// Code is a machine-readable error cause sent to clients.
type Code string

const (
	CodeIllegalMove      Code = "illegalMove"
	CodeNotYourTurn      Code = "notYourTurn"
	CodeNotActive        Code = "notActive"
	CodeLobbyFull        Code = "lobbyFull"
	CodeLobbyClosed      Code = "lobbyClosed"
	CodeNotFound         Code = "notFound"
	CodeCapacityExceeded Code = "capacityExceeded"
	CodeSlotExpired      Code = "slotExpired"
	CodeProtocolError    Code = "protocolError"
)

const (
	ReasonIdleTimeout  = "idleTimeout"
	ReasonForfeit      = "forfeit"
	ReasonShuttingDown = "shuttingDown"
)

type QR struct {
	Img   string `json:"img"`
	Width int    `json:"width"`
}

type Created struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	URL   string `json:"url"`
	QR    *QR    `json:"qr,omitempty"`
}

func NewCreated(token, url string, qr *QR) Created {
	return Created{Type: TypeCreated, Token: token, URL: url, QR: qr}
}

type Joined struct {
	Type            string `json:"type"`
	Role            string `json:"role"`
	OpponentPresent bool   `json:"opponentPresent"`
}

func NewJoined(role string, opponentPresent bool) Joined {
	return Joined{Type: TypeJoined, Role: role, OpponentPresent: opponentPresent}
}

// StateMessage carries the authoritative game position. Board is seven
// columns of six cells, bottom row first, 0 empty, 1 red, 2 yellow.
type StateMessage struct {
	Type        string       `json:"type"`
	Round       int          `json:"round"`
	Board       game.Board   `json:"board"`
	Turn        string       `json:"turn"`
	Status      string       `json:"status"`
	Winner      string       `json:"winner,omitempty"`
	MoveCount   int          `json:"moveCount"`
	LastColumn  *int         `json:"lastColumn,omitempty"`
	WinningLine []game.Coord `json:"winningLine,omitempty"`
}

func NewState(round int, s game.State) StateMessage {
	m := StateMessage{
		Type:        TypeState,
		Round:       round,
		Board:       s.Board,
		Turn:        s.Turn.String(),
		Status:      s.Status.String(),
		Winner:      s.Winner.String(),
		MoveCount:   s.MoveCount,
		WinningLine: s.WinningLine,
	}
	if s.LastColumn >= 0 {
		col := s.LastColumn
		m.LastColumn = &col
	}
	return m
}

type OpponentLeft struct {
	Type     string `json:"type"`
	Deadline string `json:"deadline"`
}

func NewOpponentLeft(deadline time.Time) OpponentLeft {
	return OpponentLeft{Type: TypeOpponentLeft, Deadline: deadline.UTC().Format(time.RFC3339)}
}

type OpponentReturned struct {
	Type string `json:"type"`
}

func NewOpponentReturned() OpponentReturned {
	return OpponentReturned{Type: TypeOpponentReturned}
}

type RematchRequested struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

func NewRematchRequested(role string) RematchRequested {
	return RematchRequested{Type: TypeRematchRequested, Role: role}
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
}

func NewError(code Code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

type Closed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewClosed(reason string) Closed {
	return Closed{Type: TypeClosed, Reason: reason}
}

type Pong struct {
	Type     string  `json:"type"`
	Sent     float64 `json:"sent"`
	Received string  `json:"received"`
}

func NewPong(sent float64, received time.Time) Pong {
	return Pong{
		Type:     TypePong,
		Sent:     sent,
		Received: received.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}
