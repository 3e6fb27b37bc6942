package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/repository"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/tictactoe"
	mockedUseCase "github.com/rocketscienceinc/tictactoe-rooms/mocks/usecase"
)

var errRebind = errors.New("connection is gone")

type event struct {
	broadcast bool
	target    string
	action    string
	payload   any
}

// fakeTransport records every event instead of writing to sockets.
type fakeTransport struct {
	mu        sync.Mutex
	groups    map[string]map[string]bool
	events    []event
	closed    []string
	rebinds   map[string]string
	rebindErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		groups:  make(map[string]map[string]bool),
		rebinds: make(map[string]string),
	}
}

func (that *fakeTransport) Subscribe(roomID, connID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.groups[roomID] == nil {
		that.groups[roomID] = make(map[string]bool)
	}

	that.groups[roomID][connID] = true
}

func (that *fakeTransport) Unsubscribe(roomID, connID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.groups[roomID], connID)
}

func (that *fakeTransport) HasSubscribers(roomID string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.groups[roomID]) > 0
}

func (that *fakeTransport) Broadcast(roomID, action string, payload any) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.events = append(that.events, event{broadcast: true, target: roomID, action: action, payload: payload})
}

func (that *fakeTransport) Send(connID, action string, payload any) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.events = append(that.events, event{target: connID, action: action, payload: payload})
}

func (that *fakeTransport) CloseRoom(roomID string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.groups, roomID)
	that.closed = append(that.closed, roomID)
}

func (that *fakeTransport) Rebind(connID, previousConnID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.rebindErr != nil {
		return that.rebindErr
	}

	that.rebinds[connID] = previousConnID

	return nil
}

func (that *fakeTransport) subscribed(roomID, connID string) bool {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.groups[roomID][connID]
}

func (that *fakeTransport) actions() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	actions := make([]string, 0, len(that.events))
	for _, e := range that.events {
		actions = append(actions, e.action)
	}

	return actions
}

func (that *fakeTransport) last() event {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.events[len(that.events)-1]
}

func (that *fakeTransport) reset() {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.events = nil
}

type testEnv struct {
	manager   *SessionManager
	transport *fakeTransport
	rooms     repository.RoomRepository
	players   repository.PlayerRepository
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sequentialIDs() func() (string, error) {
	var mu sync.Mutex
	next := 0

	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()

		next++

		return strconv.Itoa(next), nil
	}
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	storage := repository.NewMemoryStorage()
	rooms := repository.NewMemoryRoomRepository(storage)
	players := repository.NewMemoryPlayerRepository(storage)
	transport := newFakeTransport()

	manager := NewSessionManager(newTestLogger(), rooms, players, transport, opts)
	manager.newRoomID = sequentialIDs()
	t.Cleanup(manager.Close)

	return &testEnv{
		manager:   manager,
		transport: transport,
		rooms:     rooms,
		players:   players,
	}
}

// startGame creates a room for host and lets guest join it.
func (that *testEnv) startGame(t *testing.T, host, guest string) string {
	t.Helper()

	ctx := context.Background()

	roomID, err := that.manager.CreateRoom(ctx, host)
	require.NoError(t, err)
	require.NoError(t, that.manager.JoinRoom(ctx, guest, roomID, ""))

	that.transport.reset()

	return roomID
}

func (that *testEnv) room(t *testing.T, roomID string) *entity.Room {
	t.Helper()

	room, err := that.rooms.GetByID(context.Background(), roomID)
	require.NoError(t, err)

	return room
}

func TestSessionManager_CreateRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates an empty room with the caller as host", func(t *testing.T) {
		// Given: A session manager with no rooms
		env := newTestEnv(t, Options{})

		// When: A connection creates a room
		roomID, err := env.manager.CreateRoom(ctx, "host")

		// Then: The room is stored as a fresh snapshot and the host holds X
		require.NoError(t, err)

		room := env.room(t, roomID)
		assert.Equal(t, "000000000", room.Board.String())
		assert.Equal(t, entity.TurnX, room.Turn)
		assert.Equal(t, entity.StateInProgress, room.GameState)
		assert.False(t, room.Full)

		host, err := env.players.GetByID(ctx, "host")
		require.NoError(t, err)
		assert.Equal(t, entity.DefaultHostName, host.Name)
		assert.Equal(t, roomID, host.RoomID)
		assert.Equal(t, entity.TurnX, host.Turn)
		assert.Zero(t, host.Score)
		assert.True(t, host.Online)

		assert.True(t, env.transport.subscribed(roomID, "host"))

		last := env.transport.last()
		assert.False(t, last.broadcast)
		assert.Equal(t, "host", last.target)
		assert.Equal(t, ActionRoomCreated, last.action)
		assert.Equal(t, RoomCreatedPayload{RoomID: roomID, ConnID: "host"}, last.payload)
	})

	t.Run("Skips room ids that are already taken", func(t *testing.T) {
		// Given: Room "1" already exists
		env := newTestEnv(t, Options{})
		require.NoError(t, env.rooms.CreateOrUpdate(ctx, entity.NewRoom("1")))

		// When: A new room is created
		roomID, err := env.manager.CreateRoom(ctx, "host")

		// Then: The next free id is used
		require.NoError(t, err)
		assert.Equal(t, "2", roomID)
	})

	t.Run("Gives up after repeated id collisions", func(t *testing.T) {
		// Given: A generator that always returns a taken id
		env := newTestEnv(t, Options{})
		require.NoError(t, env.rooms.CreateOrUpdate(ctx, entity.NewRoom("7")))
		env.manager.newRoomID = func() (string, error) { return "7", nil }

		// When: A room is created
		_, err := env.manager.CreateRoom(ctx, "host")

		// Then: The caller gets a store error and no player is written
		require.ErrorIs(t, err, apperror.ErrStoreUnavailable)

		_, err = env.players.GetByID(ctx, "host")
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})

	t.Run("Leaves the previous room first", func(t *testing.T) {
		// Given: A host alone in a room
		env := newTestEnv(t, Options{})
		first, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)

		// When: The same connection creates another room
		second, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)

		// Then: The first room is gone and the player now belongs to the second
		_, err = env.rooms.GetByID(ctx, first)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)

		host, err := env.players.GetByID(ctx, "host")
		require.NoError(t, err)
		assert.Equal(t, second, host.RoomID)
		assert.Contains(t, env.transport.closed, first)
	})
}

func TestSessionManager_JoinRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("Second player joins and the game starts", func(t *testing.T) {
		// Given: A room with a host
		env := newTestEnv(t, Options{})
		roomID, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)
		env.transport.reset()

		// When: Another connection joins without a name
		err = env.manager.JoinRoom(ctx, "guest", roomID, "")

		// Then: The guest holds O and both join events go to the room
		require.NoError(t, err)

		guest, err := env.players.GetByID(ctx, "guest")
		require.NoError(t, err)
		assert.Equal(t, entity.DefaultPlayerName, guest.Name)
		assert.Equal(t, entity.TurnO, guest.Turn)

		assert.True(t, env.room(t, roomID).Full)
		assert.True(t, env.transport.subscribed(roomID, "guest"))
		assert.Equal(t, []string{ActionPlayerJoined, ActionGameStart}, env.transport.actions())
		assert.Equal(t, PlayerPayload{RoomID: roomID, PlayerName: "Player", ConnID: "guest"}, env.transport.events[0].payload)
	})

	t.Run("Third player is rejected without side effects", func(t *testing.T) {
		// Given: A full room
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: A third connection tries to join
		err := env.manager.JoinRoom(ctx, "late", roomID, "Late")

		// Then: It gets RoomFull, no player record and no events
		require.ErrorIs(t, err, apperror.ErrRoomFull)

		_, err = env.players.GetByID(ctx, "late")
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
		assert.Empty(t, env.transport.actions())
	})

	t.Run("Unknown room", func(t *testing.T) {
		// Given: No rooms
		env := newTestEnv(t, Options{})

		// When: Joining a made-up id
		err := env.manager.JoinRoom(ctx, "guest", "404", "")

		// Then: RoomNotFound
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})

	t.Run("Room without live connections is treated as missing", func(t *testing.T) {
		// Given: A room whose host dropped off the transport
		env := newTestEnv(t, Options{})
		roomID, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)
		env.transport.Unsubscribe(roomID, "host")

		// When: Someone joins
		err = env.manager.JoinRoom(ctx, "guest", roomID, "")

		// Then: RoomNotFound
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})

	t.Run("Joining your own room is refused", func(t *testing.T) {
		// Given: A host in a room
		env := newTestEnv(t, Options{})
		roomID, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)

		// When: The host joins it again
		err = env.manager.JoinRoom(ctx, "host", roomID, "")

		// Then: RoomFull, flagged as already in room, and the room stays open
		require.ErrorIs(t, err, apperror.ErrRoomFull)
		require.ErrorIs(t, err, apperror.ErrAlreadyInRoom)
		assert.False(t, env.room(t, roomID).Full)
	})

	t.Run("Failed join keeps the player in their current room", func(t *testing.T) {
		// Given: A full room "1" and a host waiting alone in room "2"
		env := newTestEnv(t, Options{})
		fullRoom := env.startGame(t, "host", "guest")
		ownRoom, err := env.manager.CreateRoom(ctx, "h2")
		require.NoError(t, err)
		env.transport.reset()

		// When: The lone host tries the full room and the guest mistypes a code
		err = env.manager.JoinRoom(ctx, "h2", fullRoom, "")
		require.ErrorIs(t, err, apperror.ErrRoomFull)

		err = env.manager.JoinRoom(ctx, "guest", "99999", "")
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)

		// Then: Both stay where they were and nobody hears about it
		h2, err := env.players.GetByID(ctx, "h2")
		require.NoError(t, err)
		assert.Equal(t, ownRoom, h2.RoomID)
		assert.False(t, env.room(t, ownRoom).Full)
		assert.True(t, env.transport.subscribed(ownRoom, "h2"))

		guest, err := env.players.GetByID(ctx, "guest")
		require.NoError(t, err)
		assert.Equal(t, fullRoom, guest.RoomID)
		assert.True(t, env.room(t, fullRoom).Full)
		assert.True(t, env.transport.subscribed(fullRoom, "guest"))

		assert.Empty(t, env.transport.actions())
		assert.Empty(t, env.transport.closed)
	})

	t.Run("Successful join moves the player out of their previous room", func(t *testing.T) {
		// Given: Two hosts waiting in their own rooms
		env := newTestEnv(t, Options{})
		target, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)
		previous, err := env.manager.CreateRoom(ctx, "h2")
		require.NoError(t, err)

		// When: The second host joins the first room
		require.NoError(t, env.manager.JoinRoom(ctx, "h2", target, "Bob"))

		// Then: The abandoned room is gone and the player now plays O in the target
		_, err = env.rooms.GetByID(ctx, previous)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
		assert.Contains(t, env.transport.closed, previous)

		h2, err := env.players.GetByID(ctx, "h2")
		require.NoError(t, err)
		assert.Equal(t, target, h2.RoomID)
		assert.Equal(t, entity.TurnO, h2.Turn)
		assert.True(t, env.room(t, target).Full)
		assert.Zero(t, env.manager.locks.size())
	})

	t.Run("Only one of many concurrent joins wins", func(t *testing.T) {
		// Given: A room with a host
		env := newTestEnv(t, Options{})
		roomID, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)

		// When: Ten connections join at once
		const joiners = 10

		var wg sync.WaitGroup
		errs := make([]error, joiners)
		for i := range joiners {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = env.manager.JoinRoom(ctx, fmt.Sprintf("guest-%d", i), roomID, "")
			}(i)
		}
		wg.Wait()

		// Then: Exactly one succeeds, the rest see RoomFull
		var joined int
		for _, err := range errs {
			if err == nil {
				joined++
				continue
			}
			require.ErrorIs(t, err, apperror.ErrRoomFull)
		}
		assert.Equal(t, 1, joined)

		members, err := env.players.GetByRoomID(ctx, roomID)
		require.NoError(t, err)
		assert.Len(t, members, 2)
		assert.Zero(t, env.manager.locks.size())
	})
}

func TestSessionManager_Play(t *testing.T) {
	ctx := context.Background()

	t.Run("X wins on the top row", func(t *testing.T) {
		// Given: A started game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: X takes 0, 1, 2 while O takes 3, 4
		for i, move := range []struct {
			conn string
			pos  int
		}{
			{"host", 0}, {"guest", 3}, {"host", 1}, {"guest", 4}, {"host", 2},
		} {
			require.NoError(t, env.manager.Play(ctx, move.conn, roomID, move.pos), "move %d", i)
		}

		// Then: The room is won, the turn still toggled and the host scored
		room := env.room(t, roomID)
		assert.Equal(t, "XXXOO0000", room.Board.String())
		assert.Equal(t, entity.StateWin, room.GameState)
		assert.Equal(t, entity.TurnO, room.Turn)

		host, err := env.players.GetByID(ctx, "host")
		require.NoError(t, err)
		assert.Equal(t, 1, host.Score)

		last := env.transport.last()
		assert.True(t, last.broadcast)
		assert.Equal(t, ActionGameOver, last.action)
		assert.Equal(t, GameOverPayload{Winner: "host"}, last.payload)
	})

	t.Run("Full board without a line is a tie", func(t *testing.T) {
		// Given: A started game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: Nine moves fill the board without a line
		moves := []int{0, 1, 2, 4, 3, 5, 7, 6, 8}
		for n, pos := range moves {
			conn := "host"
			if n%2 == 1 {
				conn = "guest"
			}
			require.NoError(t, env.manager.Play(ctx, conn, roomID, pos))

			// Then: turn always equals the number of moves mod 2
			assert.Equal(t, (n+1)%2, env.room(t, roomID).Turn)
		}

		// Then: The game is a tie and nobody scored
		room := env.room(t, roomID)
		assert.Equal(t, "XOXXOOOXX", room.Board.String())
		assert.Equal(t, entity.StateTie, room.GameState)
		assert.Equal(t, GameOverPayload{Winner: tictactoe.TieMarker}, env.transport.last().payload)

		for _, id := range []string{"host", "guest"} {
			player, err := env.players.GetByID(ctx, id)
			require.NoError(t, err)
			assert.Zero(t, player.Score)
		}
	})

	t.Run("Valid move broadcasts the tile and symbol", func(t *testing.T) {
		// Given: A started game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: X plays the centre
		require.NoError(t, env.manager.Play(ctx, "host", roomID, 4))

		// Then: Exactly one valid-play event goes to the room
		require.Equal(t, []string{ActionValidPlay}, env.transport.actions())
		assert.Equal(t, ValidPlayPayload{ID: "tic5", Text: "X"}, env.transport.last().payload)
	})

	t.Run("Occupied cell is rejected", func(t *testing.T) {
		// Given: X holds the centre
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")
		require.NoError(t, env.manager.Play(ctx, "host", roomID, 4))
		env.transport.reset()
		before := env.room(t, roomID)

		// When: O plays the same cell
		err := env.manager.Play(ctx, "guest", roomID, 4)

		// Then: The move is refused and nothing changes
		require.ErrorIs(t, err, apperror.ErrInvalidMove)
		assert.Equal(t, before, env.room(t, roomID))
		assert.Empty(t, env.transport.actions())
	})

	t.Run("Moves out of turn are rejected", func(t *testing.T) {
		// Given: A started game where X moves first
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: O tries to move
		err := env.manager.Play(ctx, "guest", roomID, 0)

		// Then: NotYourTurn and no events
		require.ErrorIs(t, err, apperror.ErrNotYourTurn)
		assert.Empty(t, env.transport.actions())
	})

	t.Run("No moves before the second player arrives", func(t *testing.T) {
		// Given: A room with only a host
		env := newTestEnv(t, Options{})
		roomID, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)

		// When: The host moves
		err = env.manager.Play(ctx, "host", roomID, 0)

		// Then: GameIsNotStarted
		require.ErrorIs(t, err, apperror.ErrGameIsNotStarted)
	})

	t.Run("No moves after the game ended", func(t *testing.T) {
		// Given: A finished game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")
		for n, pos := range []int{0, 3, 1, 4, 2} {
			conn := "host"
			if n%2 == 1 {
				conn = "guest"
			}
			require.NoError(t, env.manager.Play(ctx, conn, roomID, pos))
		}

		// When: O keeps playing
		err := env.manager.Play(ctx, "guest", roomID, 5)

		// Then: GameFinished
		require.ErrorIs(t, err, apperror.ErrGameFinished)
	})

	t.Run("Strangers cannot move", func(t *testing.T) {
		// Given: A started game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: A connection outside the room moves
		err := env.manager.Play(ctx, "stranger", roomID, 0)

		// Then: PlayerNotFound
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})

	t.Run("Missing room is a no-op", func(t *testing.T) {
		// Given: No rooms
		env := newTestEnv(t, Options{})

		// When: Someone plays into a made-up room
		err := env.manager.Play(ctx, "host", "404", 0)

		// Then: Nothing happens
		require.NoError(t, err)
		assert.Empty(t, env.transport.actions())
	})
}

func TestSessionManager_LeaveRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("Guest leaves and the board is kept", func(t *testing.T) {
		// Given: A game with one move played
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")
		require.NoError(t, env.manager.Play(ctx, "host", roomID, 0))
		env.transport.reset()

		// When: The guest leaves
		err := env.manager.LeaveRoom(ctx, "guest", roomID)

		// Then: The room reopens with the board intact
		require.NoError(t, err)

		room := env.room(t, roomID)
		assert.False(t, room.Full)
		assert.Equal(t, "X00000000", room.Board.String())
		assert.Equal(t, entity.TurnO, room.Turn)

		assert.False(t, env.transport.subscribed(roomID, "guest"))
		assert.Equal(t, []string{ActionPlayerLeft}, env.transport.actions())
		assert.Equal(t, PlayerPayload{RoomID: roomID, PlayerName: "Player", ConnID: "guest"}, env.transport.last().payload)

		// Then: Moves wait for a new opponent
		require.ErrorIs(t, env.manager.Play(ctx, "host", roomID, 1), apperror.ErrGameIsNotStarted)
	})

	t.Run("Next joiner takes the vacated slot", func(t *testing.T) {
		// Given: The host left a started game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")
		require.NoError(t, env.manager.LeaveRoom(ctx, "host", roomID))

		// When: A new player joins
		require.NoError(t, env.manager.JoinRoom(ctx, "fresh", roomID, "Fresh"))

		// Then: They play X
		fresh, err := env.players.GetByID(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, entity.TurnX, fresh.Turn)
		assert.True(t, env.room(t, roomID).Full)
	})

	t.Run("Last player out deletes the room", func(t *testing.T) {
		// Given: A room with only a host
		env := newTestEnv(t, Options{})
		roomID, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)

		// When: The host leaves
		require.NoError(t, env.manager.LeaveRoom(ctx, "host", roomID))

		// Then: The room and its group are gone
		_, err = env.rooms.GetByID(ctx, roomID)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
		assert.Contains(t, env.transport.closed, roomID)
	})

	t.Run("Unknown player", func(t *testing.T) {
		// Given: A room with a host
		env := newTestEnv(t, Options{})
		roomID, err := env.manager.CreateRoom(ctx, "host")
		require.NoError(t, err)

		// When: A stranger leaves it
		err = env.manager.LeaveRoom(ctx, "stranger", roomID)

		// Then: PlayerNotFound
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})

	t.Run("Player leaving a room they are not in", func(t *testing.T) {
		// Given: Two separate rooms
		env := newTestEnv(t, Options{})
		first, err := env.manager.CreateRoom(ctx, "a")
		require.NoError(t, err)
		_, err = env.manager.CreateRoom(ctx, "b")
		require.NoError(t, err)

		// When: b leaves a's room
		err = env.manager.LeaveRoom(ctx, "b", first)

		// Then: RoomNotFound and a is untouched
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
		assert.True(t, env.transport.subscribed(first, "a"))
	})
}

func TestSessionManager_DeleteRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("Removes the room and its members", func(t *testing.T) {
		// Given: A started game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: The room is deleted
		require.NoError(t, env.manager.DeleteRoom(ctx, roomID))

		// Then: Members were told, records are gone and the group is closed
		assert.Equal(t, []string{ActionRoomDeleted}, env.transport.actions())

		_, err := env.rooms.GetByID(ctx, roomID)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)

		for _, id := range []string{"host", "guest"} {
			_, err = env.players.GetByID(ctx, id)
			require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
		}

		assert.Contains(t, env.transport.closed, roomID)
	})

	t.Run("Missing room is not an error", func(t *testing.T) {
		// Given: No rooms
		env := newTestEnv(t, Options{})

		// When: Deleting a made-up id
		err := env.manager.DeleteRoom(ctx, "404")

		// Then: No error and no events
		require.NoError(t, err)
		assert.Empty(t, env.transport.actions())
	})
}

func TestSessionManager_Restart(t *testing.T) {
	ctx := context.Background()

	t.Run("Finished game starts over", func(t *testing.T) {
		// Given: X won
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")
		for n, pos := range []int{0, 3, 1, 4, 2} {
			conn := "host"
			if n%2 == 1 {
				conn = "guest"
			}
			require.NoError(t, env.manager.Play(ctx, conn, roomID, pos))
		}
		env.transport.reset()

		// When: The guest asks for a rematch
		require.NoError(t, env.manager.Restart(ctx, "guest", roomID))

		// Then: The board is clean, X starts and the room is told
		room := env.room(t, roomID)
		assert.Equal(t, "000000000", room.Board.String())
		assert.Equal(t, entity.StateInProgress, room.GameState)
		assert.Equal(t, entity.TurnX, room.Turn)
		assert.True(t, room.Full)
		assert.Equal(t, []string{ActionGameStart}, env.transport.actions())

		require.NoError(t, env.manager.Play(ctx, "host", roomID, 8))
	})

	t.Run("Game in progress cannot be restarted", func(t *testing.T) {
		// Given: A started game
		env := newTestEnv(t, Options{})
		roomID := env.startGame(t, "host", "guest")

		// When: Restart is requested
		err := env.manager.Restart(ctx, "host", roomID)

		// Then: GameIsNotFinished
		require.ErrorIs(t, err, apperror.ErrGameIsNotFinished)
	})
}

func TestSessionManager_Reconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("Player comes back within the window", func(t *testing.T) {
		// Given: The guest dropped off
		env := newTestEnv(t, Options{ReconnectTimeout: time.Hour})
		roomID := env.startGame(t, "host", "guest")
		env.manager.Disconnect(ctx, "guest")

		guest, err := env.players.GetByID(ctx, "guest")
		require.NoError(t, err)
		require.False(t, guest.Online)
		require.False(t, env.transport.subscribed(roomID, "guest"))

		// When: A new connection reclaims the old id
		err = env.manager.Reconnect(ctx, "new-conn", "guest")

		// Then: The player is back online and gets a snapshot
		require.NoError(t, err)

		guest, err = env.players.GetByID(ctx, "guest")
		require.NoError(t, err)
		assert.True(t, guest.Online)
		assert.True(t, env.transport.subscribed(roomID, "guest"))
		assert.Equal(t, "guest", env.transport.rebinds["new-conn"])

		last := env.transport.last()
		assert.False(t, last.broadcast)
		assert.Equal(t, "guest", last.target)
		assert.Equal(t, ActionGameStart, last.action)
		assert.False(t, env.manager.hasExpiry("guest"))
	})

	t.Run("Room opened under the fresh id is given up", func(t *testing.T) {
		// Given: The guest dropped off and the new connection already created a room
		env := newTestEnv(t, Options{ReconnectTimeout: time.Hour})
		roomID := env.startGame(t, "host", "guest")
		env.manager.Disconnect(ctx, "guest")

		freshRoom, err := env.manager.CreateRoom(ctx, "fresh")
		require.NoError(t, err)

		// When: The new connection reclaims the guest id
		require.NoError(t, env.manager.Reconnect(ctx, "fresh", "guest"))

		// Then: Nothing is left behind under the fresh id
		_, err = env.players.GetByID(ctx, "fresh")
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)

		_, err = env.rooms.GetByID(ctx, freshRoom)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
		assert.Contains(t, env.transport.closed, freshRoom)
		assert.False(t, env.manager.hasExpiry("fresh"))

		guest, err := env.players.GetByID(ctx, "guest")
		require.NoError(t, err)
		assert.True(t, guest.Online)
		assert.True(t, env.transport.subscribed(roomID, "guest"))
	})

	t.Run("Unknown id cannot be reclaimed", func(t *testing.T) {
		// Given: A guest that never disconnected
		env := newTestEnv(t, Options{})
		env.startGame(t, "host", "guest")

		// When: Someone tries to take over its id
		err := env.manager.Reconnect(ctx, "new-conn", "guest")

		// Then: PlayerNotFound
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
	})

	t.Run("Failed rebind keeps the grace timer", func(t *testing.T) {
		// Given: A dropped guest and a transport that cannot rebind
		env := newTestEnv(t, Options{ReconnectTimeout: time.Hour})
		env.startGame(t, "host", "guest")
		env.manager.Disconnect(ctx, "guest")
		env.transport.rebindErr = errRebind

		// When: The guest reconnects
		err := env.manager.Reconnect(ctx, "new-conn", "guest")

		// Then: The error surfaces and the player may still retry
		require.ErrorIs(t, err, errRebind)
		assert.True(t, env.manager.hasExpiry("guest"))
	})

	t.Run("Player is removed when the window expires", func(t *testing.T) {
		// Given: A short reconnect window
		env := newTestEnv(t, Options{ReconnectTimeout: 20 * time.Millisecond})
		roomID := env.startGame(t, "host", "guest")

		// When: The guest drops and never returns
		env.manager.Disconnect(ctx, "guest")

		// Then: The guest is removed as if they had left
		require.Eventually(t, func() bool {
			for _, action := range env.transport.actions() {
				if action == ActionPlayerLeft {
					return true
				}
			}
			return false
		}, time.Second, 5*time.Millisecond)

		_, err := env.players.GetByID(ctx, "guest")
		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
		assert.False(t, env.room(t, roomID).Full)
	})
}

func TestSessionManager_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Store error drops the move without events", func(t *testing.T) {
		// Given: A room store that is down
		mockRoomRepo := mockedUseCase.NewMockroomRepoDep(t)
		mockPlayerRepo := mockedUseCase.NewMockplayerRepoDep(t)
		transport := newFakeTransport()
		manager := NewSessionManager(newTestLogger(), mockRoomRepo, mockPlayerRepo, transport, Options{})

		mockRoomRepo.EXPECT().
			GetByID(mock.Anything, "1").
			Return(nil, fmt.Errorf("%w: connection refused", apperror.ErrStoreUnavailable)).
			Once()

		// When: A move comes in
		err := manager.Play(ctx, "host", "1", 0)

		// Then: StoreUnavailable surfaces and nothing is broadcast
		require.ErrorIs(t, err, apperror.ErrStoreUnavailable)
		assert.Empty(t, transport.actions())
	})

	t.Run("Slow store times out as unavailable", func(t *testing.T) {
		// Given: A room store that never answers
		mockRoomRepo := mockedUseCase.NewMockroomRepoDep(t)
		mockPlayerRepo := mockedUseCase.NewMockplayerRepoDep(t)
		manager := NewSessionManager(newTestLogger(), mockRoomRepo, mockPlayerRepo, newFakeTransport(), Options{
			StoreTimeout: 10 * time.Millisecond,
		})

		mockRoomRepo.EXPECT().
			GetByID(mock.Anything, "1").
			RunAndReturn(func(ctx context.Context, _ string) (*entity.Room, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}).
			Once()

		// When: Restart is requested
		err := manager.Restart(ctx, "host", "1")

		// Then: The deadline maps to StoreUnavailable
		require.ErrorIs(t, err, apperror.ErrStoreUnavailable)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Failed delete leaves the room untouched and silent", func(t *testing.T) {
		// Given: The member lookup fails
		mockRoomRepo := mockedUseCase.NewMockroomRepoDep(t)
		mockPlayerRepo := mockedUseCase.NewMockplayerRepoDep(t)
		transport := newFakeTransport()
		manager := NewSessionManager(newTestLogger(), mockRoomRepo, mockPlayerRepo, transport, Options{})

		mockRoomRepo.EXPECT().GetByID(mock.Anything, "1").Return(entity.NewRoom("1"), nil).Once()
		mockPlayerRepo.EXPECT().
			GetByRoomID(mock.Anything, "1").
			Return(nil, fmt.Errorf("%w: connection refused", apperror.ErrStoreUnavailable)).
			Once()

		// When: The room is deleted
		err := manager.DeleteRoom(ctx, "1")

		// Then: Nothing was deleted, announced or closed
		require.ErrorIs(t, err, apperror.ErrStoreUnavailable)
		assert.Empty(t, transport.actions())
		assert.Empty(t, transport.closed)
	})

	t.Run("Failed room delete is not announced", func(t *testing.T) {
		// Given: The room record cannot be removed
		mockRoomRepo := mockedUseCase.NewMockroomRepoDep(t)
		mockPlayerRepo := mockedUseCase.NewMockplayerRepoDep(t)
		transport := newFakeTransport()
		manager := NewSessionManager(newTestLogger(), mockRoomRepo, mockPlayerRepo, transport, Options{})

		mockRoomRepo.EXPECT().GetByID(mock.Anything, "1").Return(entity.NewRoom("1"), nil).Once()
		mockPlayerRepo.EXPECT().
			GetByRoomID(mock.Anything, "1").
			Return([]*entity.Player{entity.NewHost("host", "1")}, nil).
			Once()
		mockRoomRepo.EXPECT().DeleteByID(mock.Anything, "1").Return(apperror.ErrStoreUnavailable).Once()

		// When: The room is deleted
		err := manager.DeleteRoom(ctx, "1")

		// Then: Members are kept and nobody is told the room is gone
		require.ErrorIs(t, err, apperror.ErrStoreUnavailable)
		assert.Empty(t, transport.actions())
		assert.Empty(t, transport.closed)
	})

	t.Run("Failed score write still finishes the game", func(t *testing.T) {
		// Given: X is one move from winning and the score write fails
		mockRoomRepo := mockedUseCase.NewMockroomRepoDep(t)
		mockPlayerRepo := mockedUseCase.NewMockplayerRepoDep(t)
		transport := newFakeTransport()
		manager := NewSessionManager(newTestLogger(), mockRoomRepo, mockPlayerRepo, transport, Options{})

		board, err := entity.ParseBoard("XX0OO0000")
		require.NoError(t, err)

		room := entity.NewRoom("1")
		room.Board = board
		room.Full = true

		mockRoomRepo.EXPECT().GetByID(mock.Anything, "1").Return(room, nil).Once()
		mockPlayerRepo.EXPECT().
			GetByID(mock.Anything, "host").
			Return(entity.NewHost("host", "1"), nil).
			Once()
		mockRoomRepo.EXPECT().
			CreateOrUpdate(mock.Anything, mock.AnythingOfType("*entity.Room")).
			Return(nil).
			Once()
		mockPlayerRepo.EXPECT().
			CreateOrUpdate(mock.Anything, mock.AnythingOfType("*entity.Player")).
			Return(apperror.ErrStoreUnavailable).
			Once()

		// When: X completes the row
		err = manager.Play(ctx, "host", "1", 2)

		// Then: The move stands and the winner is announced
		require.NoError(t, err)
		assert.Equal(t, []string{ActionValidPlay, ActionGameOver}, transport.actions())
	})
}

func TestRoomLocks(t *testing.T) {
	t.Run("Serializes work on one room and forgets idle rooms", func(t *testing.T) {
		// Given: A lock table and a shared counter
		locks := newRoomLocks()
		counter := 0

		// When: Many goroutines bump the counter under the same room lock
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock("room")
				counter++
				unlock()
			}()
		}
		wg.Wait()

		// Then: No increment was lost and no entry is left behind
		assert.Equal(t, 50, counter)
		assert.Zero(t, locks.size())
	})

	t.Run("Locks several rooms without deadlocking on reversed order", func(t *testing.T) {
		// Given: A lock table
		locks := newRoomLocks()

		// When: Two goroutines repeatedly lock the same pair in opposite order
		var wg sync.WaitGroup
		for _, pair := range [][2]string{{"1", "2"}, {"2", "1"}} {
			wg.Add(1)
			go func(a, b string) {
				defer wg.Done()
				for range 100 {
					unlock := locks.LockAll(a, b, "")
					unlock()
				}
			}(pair[0], pair[1])
		}
		wg.Wait()

		// Then: Both finished and nothing is held
		assert.Zero(t, locks.size())
	})

	t.Run("Same room twice is locked once", func(t *testing.T) {
		// Given: A lock table
		locks := newRoomLocks()

		// When: The same id is passed twice
		unlock := locks.LockAll("1", "1")
		unlock()

		// Then: No self-deadlock and nothing is held
		assert.Zero(t, locks.size())
	})
}
