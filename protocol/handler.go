// Package protocol dispatches client messages to the registry and lobbies.
// Messages for one connection are handled on that connection's read loop,
// so Handle and Gone never run concurrently for the same connection.
package protocol

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glubian/connect-four-server/domain"
	"github.com/glubian/connect-four-server/game"
	"github.com/glubian/connect-four-server/invite"
	"github.com/glubian/connect-four-server/lobby"
)

type binding struct {
	lobby *lobby.Lobby
	role  lobby.Role
}

type Handler struct {
	registry *lobby.Registry
	issuer   *invite.Issuer

	mu       sync.Mutex
	bindings map[string]binding
}

func NewHandler(reg *lobby.Registry, issuer *invite.Issuer) *Handler {
	return &Handler{
		registry: reg,
		issuer:   issuer,
		bindings: make(map[string]binding),
	}
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		h.sendError(conn, domain.CodeProtocolError, "malformed message")
		return
	}

	switch msg.Type {
	case domain.TypePing:
		var sent float64
		if msg.Sent != nil {
			sent = *msg.Sent
		}
		h.reply(conn, domain.NewPong(sent, time.Now()))
	case domain.TypeCreate:
		h.handleCreate(conn)
	case domain.TypeJoin:
		h.handleJoin(conn, msg.Token)
	case domain.TypeMove:
		h.handleMove(conn, msg.Column)
	case domain.TypeRematch:
		h.handleRematch(conn)
	default:
		slog.Warn("unknown message type", "clientId", conn.ID(), "type", msg.Type)
		h.sendError(conn, domain.CodeProtocolError, "unknown message type")
	}
}

// Gone unbinds a dropped connection and reports it to its lobby.
func (h *Handler) Gone(conn domain.Connection) {
	h.mu.Lock()
	b, ok := h.bindings[conn.ID()]
	delete(h.bindings, conn.ID())
	h.mu.Unlock()

	if ok {
		b.lobby.Disconnect(conn)
	}
}

func (h *Handler) handleCreate(conn domain.Connection) {
	if _, bound := h.binding(conn); bound {
		h.sendError(conn, domain.CodeProtocolError, "already in a lobby")
		return
	}
	l, err := h.registry.Create(conn)
	if err != nil {
		h.sendError(conn, codeFor(err), err.Error())
		return
	}
	h.bind(conn, l, lobby.Host)

	art, err := h.issuer.Artifact(l.Token())
	if err != nil {
		slog.Error("qr code generation failed", "lobby", l.Token(), "error", err)
	}
	var qr *domain.QR
	if art.QRBase64 != "" {
		qr = &domain.QR{Img: art.QRBase64, Width: art.QRWidth}
	}
	h.reply(conn, domain.NewCreated(l.Token(), art.URL, qr))
}

func (h *Handler) handleJoin(conn domain.Connection, token string) {
	if _, bound := h.binding(conn); bound {
		h.sendError(conn, domain.CodeProtocolError, "already in a lobby")
		return
	}
	if token == "" {
		h.sendError(conn, domain.CodeProtocolError, "missing token")
		return
	}
	l, err := h.registry.Lookup(token)
	if err != nil {
		h.sendError(conn, codeFor(err), err.Error())
		return
	}
	role, err := l.Join(conn)
	if err != nil {
		h.sendError(conn, codeFor(err), err.Error())
		return
	}
	h.bind(conn, l, role)
}

func (h *Handler) handleMove(conn domain.Connection, column *int) {
	b, bound := h.binding(conn)
	if !bound {
		h.sendError(conn, domain.CodeNotActive, "not in a lobby")
		return
	}
	if column == nil {
		h.sendError(conn, domain.CodeProtocolError, "missing column")
		return
	}
	if err := b.lobby.Move(b.role, *column); err != nil {
		h.sendError(conn, codeFor(err), err.Error())
	}
}

func (h *Handler) handleRematch(conn domain.Connection) {
	b, bound := h.binding(conn)
	if !bound {
		h.sendError(conn, domain.CodeNotActive, "not in a lobby")
		return
	}
	if err := b.lobby.Rematch(b.role); err != nil {
		h.sendError(conn, codeFor(err), err.Error())
	}
}

func (h *Handler) bind(conn domain.Connection, l *lobby.Lobby, role lobby.Role) {
	h.mu.Lock()
	h.bindings[conn.ID()] = binding{lobby: l, role: role}
	h.mu.Unlock()
}

func (h *Handler) binding(conn domain.Connection) (binding, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bindings[conn.ID()]
	return b, ok
}

func (h *Handler) reply(conn domain.Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshal reply", "clientId", conn.ID(), "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("reply failed", "clientId", conn.ID(), "error", err)
	}
}

func (h *Handler) sendError(conn domain.Connection, code domain.Code, message string) {
	h.reply(conn, domain.NewError(code, message))
}

// codeFor maps rule and lifecycle errors to their wire codes.
func codeFor(err error) domain.Code {
	switch {
	case errors.Is(err, game.ErrInvalidColumn), errors.Is(err, game.ErrColumnFull):
		return domain.CodeIllegalMove
	case errors.Is(err, game.ErrWrongTurn):
		return domain.CodeNotYourTurn
	case errors.Is(err, game.ErrGameOver), errors.Is(err, lobby.ErrNotActive):
		return domain.CodeNotActive
	case errors.Is(err, lobby.ErrLobbyFull):
		return domain.CodeLobbyFull
	case errors.Is(err, lobby.ErrLobbyClosed):
		return domain.CodeLobbyClosed
	case errors.Is(err, lobby.ErrNotFound):
		return domain.CodeNotFound
	case errors.Is(err, lobby.ErrCapacityExceeded):
		return domain.CodeCapacityExceeded
	case errors.Is(err, lobby.ErrSlotExpired):
		return domain.CodeSlotExpired
	default:
		return domain.CodeProtocolError
	}
}
