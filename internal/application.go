package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/config"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-rooms/transport/rest"
	"github.com/rocketscienceinc/tictactoe-rooms/transport/websocket"
)

var (
	ErrAddrNotFound   = errors.New("redis address string is empty")
	ErrUnknownStorage = errors.New("unknown storage driver")
)

type repositories struct {
	rooms   repository.RoomRepository
	players repository.PlayerRepository
	close   func() error
}

// RunApp - runs the application until ctx is cancelled or a signal arrives.
func RunApp(ctx context.Context, logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case sig := <-sigs:
			log.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	repos, err := openRepositories(ctx, conf)
	if err != nil {
		return err
	}

	defer func() {
		if err = repos.close(); err != nil {
			log.Error("could not close storage", "error", err)
		}
	}()

	log.Info("storage ready", "driver", conf.Storage.Driver)

	hub := websocket.NewHub(logger.With("component", "hub"))
	manager := usecase.NewSessionManager(
		logger.With("component", "session"),
		repos.rooms,
		repos.players,
		hub,
		usecase.Options{
			StoreTimeout:     conf.Session.StoreTimeout,
			ReconnectTimeout: conf.Session.ReconnectTimeout,
		},
	)
	defer manager.Close()

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "port", conf.HTTPPort)
		restServer := rest.New(logger, rest.NewRoomHandlers(logger, manager, conf.PublicURL))
		if httpErr := restServer.Start(ctx, conf.HTTPPort); httpErr != nil {
			log.Error("HTTP server error", "error", httpErr)
			httpErrCh <- httpErr
		}
	}()

	// run Websocket server
	wsErrCh := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "port", conf.SocketPort)
		wsServer := websocket.New(logger, hub, manager, websocket.Options{
			MessagesPerSecond: conf.Socket.MessagesPerSecond,
			Burst:             conf.Socket.Burst,
		})
		if wsErr := wsServer.Start(ctx, conf.SocketPort); wsErr != nil {
			log.Error("WebSocket server error", "error", wsErr)
			wsErrCh <- wsErr
		}
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case err = <-wsErrCh:
		return fmt.Errorf("WebSocket server error: %w", err)
	case <-ctx.Done():
		log.Info("Application context canceled, shutting down")
		return nil
	}
}

func openRepositories(ctx context.Context, conf *config.Config) (*repositories, error) {
	switch conf.Storage.Driver {
	case config.DriverRedis:
		addr := conf.Redis.GetRedisAddr()
		if addr == "" {
			return nil, ErrAddrNotFound
		}

		client, err := storage.NewRedis(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("could not connect to redis storage: %w", err)
		}

		return &repositories{
			rooms:   repository.NewRoomRepository(client),
			players: repository.NewPlayerRepository(client),
			close:   client.Close,
		}, nil

	case config.DriverSQLite:
		db, err := storage.NewSQLite(ctx, conf.SQLiteStoragePath)
		if err != nil {
			return nil, fmt.Errorf("could not open sqlite storage: %w", err)
		}

		return &repositories{
			rooms:   repository.NewSQLRoomRepository(db),
			players: repository.NewSQLPlayerRepository(db),
			close:   db.Close,
		}, nil

	case config.DriverPostgres:
		db, err := storage.NewPostgres(ctx, conf.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("could not connect to postgres storage: %w", err)
		}

		return &repositories{
			rooms:   repository.NewSQLRoomRepository(db),
			players: repository.NewSQLPlayerRepository(db),
			close:   db.Close,
		}, nil

	case config.DriverMemory:
		memory := repository.NewMemoryStorage()

		return &repositories{
			rooms:   repository.NewMemoryRoomRepository(memory),
			players: repository.NewMemoryPlayerRepository(memory),
			close:   func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, conf.Storage.Driver)
	}
}
