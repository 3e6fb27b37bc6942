package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	defaultMessagesPerSecond = 10
	defaultBurst             = 20
)

type sessionManager interface {
	CreateRoom(ctx context.Context, connID string) (string, error)
	DeleteRoom(ctx context.Context, roomID string) error
	JoinRoom(ctx context.Context, connID, roomID, playerName string) error
	LeaveRoom(ctx context.Context, connID, roomID string) error
	Play(ctx context.Context, connID, roomID string, position int) error
	Restart(ctx context.Context, connID, roomID string) error
	Reconnect(ctx context.Context, connID, previousConnID string) error
	Disconnect(ctx context.Context, connID string)
}

type Options struct {
	MessagesPerSecond float64
	Burst             int
}

type Server struct {
	logger  *slog.Logger
	hub     *Hub
	manager sessionManager

	validate *validator.Validate
	upgrader websocket.Upgrader

	messagesPerSecond rate.Limit
	burst             int

	handlers map[string]func(ctx context.Context, c *client, message *Message) error
}

func New(logger *slog.Logger, hub *Hub, manager sessionManager, opts Options) *Server {
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = defaultMessagesPerSecond
	}

	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}

	server := &Server{
		logger:  logger,
		hub:     hub,
		manager: manager,

		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},

		messagesPerSecond: rate.Limit(opts.MessagesPerSecond),
		burst:             opts.Burst,

		handlers: make(map[string]func(context.Context, *client, *Message) error),
	}

	server.handlers[actionCreateRoom] = server.handleCreateRoom
	server.handlers[actionDeleteRoom] = server.handleDeleteRoom
	server.handlers[actionJoinRoom] = server.handleJoinRoom
	server.handlers[actionLeaveRoom] = server.handleLeaveRoom
	server.handlers[actionPlay] = server.handlePlay
	server.handlers[actionRestartGame] = server.handleRestartGame
	server.handlers[actionReconnect] = server.handleReconnect

	return server
}

// Start - starts WebSocket server and blocks until ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", that)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shutdown websocket server", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// ServeHTTP - upgrades the connection and runs it until the peer goes away.
func (that *Server) ServeHTTP(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "ServeHTTP")

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	c := newClient(pkg.GenerateConnID(), conn, rate.NewLimiter(that.messagesPerSecond, that.burst))
	that.hub.register(c)

	log.Info("websocket connection established", "connId", c.id)

	go that.writePump(c)

	that.hub.Send(c.id, usecase.ActionConnected, usecase.ConnectedPayload{ConnID: c.id})

	that.readPump(req.Context(), c)

	connID := that.hub.unregister(c)
	c.close()

	that.manager.Disconnect(context.WithoutCancel(req.Context()), connID)

	log.Info("websocket connection closed", "connId", connID)
}

// readPump - reads client messages and dispatches them by action.
func (that *Server) readPump(ctx context.Context, c *client) {
	log := that.logger.With("method", "readPump")

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("unexpected close", "error", err)
			}

			return
		}

		that.dispatch(ctx, c, data)
	}
}

func (that *Server) dispatch(ctx context.Context, c *client, data []byte) {
	connID := that.hub.connID(c)
	log := that.logger.With("method", "dispatch", "connId", connID)

	if !c.limiter.Allow() {
		that.sendError(connID, "too many messages")
		return
	}

	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		log.Debug("failed to unmarshal message", "error", err)
		that.sendError(connID, "malformed message")

		return
	}

	handler, ok := that.handlers[message.Action]
	if !ok {
		log.Debug("unknown action", "action", message.Action)
		that.sendError(connID, "unknown action "+message.Action)

		return
	}

	if err := handler(ctx, c, &message); err != nil {
		log.Error("error processing message", "action", message.Action, "error", err)
	}
}

// writePump - the only goroutine that writes to the connection.
func (that *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)

			return
		}
	}
}

func (that *Server) sendError(connID, message string) {
	that.hub.Send(connID, usecase.ActionError, usecase.ErrorPayload{Message: message})
}
