package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/glubian/connect-four-server/config"
	"github.com/glubian/connect-four-server/domain"
	"github.com/glubian/connect-four-server/invite"
	"github.com/glubian/connect-four-server/lobby"
	"github.com/glubian/connect-four-server/protocol"
	ws "github.com/glubian/connect-four-server/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	issuer, err := invite.NewIssuer(cfg.BaseURL, cfg.LobbyParam)
	if err != nil {
		slog.Error("invalid base url", "error", err)
		os.Exit(1)
	}

	registry := lobby.NewRegistry(lobby.Settings{
		MaxLobbies:     cfg.MaxLobbies,
		WaitingTimeout: cfg.WaitingTimeout,
		GracePeriod:    cfg.GracePeriod,
		Tokens:         issuer.Token,
	})
	handler := protocol.NewHandler(registry, issuer)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go registry.Run(sweepCtx, cfg.SweepInterval)

	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler(handler))
	router.HandleFunc("/health", healthHandler)
	router.HandleFunc("/stats", statsHandler(registry))
	if cfg.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
		slog.Info("serving static files", "dir", cfg.StaticDir)
	}

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		slog.Info("server starting",
			"addr", cfg.Addr, "maxLobbies", cfg.MaxLobbies, "tls", cfg.TLSEnabled())
		var err error
		if cfg.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	stopSweep()
	registry.CloseAll(domain.ReasonShuttingDown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger(level string) {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func wsHandler(handler *protocol.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("upgrade error", "error", err)
			return
		}

		wsConn := ws.NewConn(uuid.New().String(), conn, handler)
		wsConn.Start()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(registry *lobby.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbies, players := registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"lobbies": lobbies, "players": players})
	}
}
