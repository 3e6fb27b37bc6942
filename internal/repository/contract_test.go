package repository

import (
	"context"
	"testing"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory returns a fresh, empty pair of repositories sharing one backend.
type storeFactory func(t *testing.T) (context.Context, RoomRepository, PlayerRepository)

func runRoomRepositoryContract(t *testing.T, newStore storeFactory) {
	t.Run("CreateOrUpdate then GetByID", func(t *testing.T) {
		ctx, roomRepo, _ := newStore(t)

		// Given: a fresh room
		room := entity.NewRoom("123")

		// When: it is stored and read back
		require.NoError(t, roomRepo.CreateOrUpdate(ctx, room))
		retrievedRoom, err := roomRepo.GetByID(ctx, room.ID)

		// Then: the record matches
		require.NoError(t, err)
		assert.Equal(t, room, retrievedRoom)
	})

	t.Run("CreateOrUpdate merges by id", func(t *testing.T) {
		ctx, roomRepo, _ := newStore(t)

		// Given: a stored room
		room := entity.NewRoom("123")
		require.NoError(t, roomRepo.CreateOrUpdate(ctx, room))

		// When: the same id is written with a move, turn and fullness
		board, err := entity.ParseBoard("X00000000")
		require.NoError(t, err)
		room.Board = board
		room.Turn = entity.TurnO
		room.Full = true
		require.NoError(t, roomRepo.CreateOrUpdate(ctx, room))
		require.NoError(t, roomRepo.CreateOrUpdate(ctx, room))

		// Then: the latest write wins in full
		retrievedRoom, err := roomRepo.GetByID(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, "X00000000", retrievedRoom.Board.String())
		assert.Equal(t, entity.TurnO, retrievedRoom.Turn)
		assert.True(t, retrievedRoom.Full)
	})

	t.Run("GetByID on a missing room", func(t *testing.T) {
		ctx, roomRepo, _ := newStore(t)

		// When: GetByID is called with a non-existent ID
		retrievedRoom, err := roomRepo.GetByID(ctx, "9999999")

		// Then: ErrRoomNotFound is returned
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
		assert.Nil(t, retrievedRoom)
	})

	t.Run("DeleteByID is idempotent", func(t *testing.T) {
		ctx, roomRepo, _ := newStore(t)

		// Given: a stored room
		room := entity.NewRoom("123")
		require.NoError(t, roomRepo.CreateOrUpdate(ctx, room))

		// When: it is deleted twice
		require.NoError(t, roomRepo.DeleteByID(ctx, room.ID))
		require.NoError(t, roomRepo.DeleteByID(ctx, room.ID))

		// Then: it is gone
		_, err := roomRepo.GetByID(ctx, room.ID)
		require.ErrorIs(t, err, apperror.ErrRoomNotFound)
	})
}

func runPlayerRepositoryContract(t *testing.T, newStore storeFactory) {
	t.Run("CreateOrUpdate then GetByID", func(t *testing.T) {
		ctx, _, playerRepo := newStore(t)

		// Given: a host player
		player := entity.NewHost("conn-1", "123")

		// When: it is stored and read back
		require.NoError(t, playerRepo.CreateOrUpdate(ctx, player))
		retrievedPlayer, err := playerRepo.GetByID(ctx, player.ID)

		// Then: the record matches
		require.NoError(t, err)
		assert.Equal(t, player, retrievedPlayer)
	})

	t.Run("GetByID on a missing player", func(t *testing.T) {
		ctx, _, playerRepo := newStore(t)

		retrievedPlayer, err := playerRepo.GetByID(ctx, "9999999")

		require.ErrorIs(t, err, apperror.ErrPlayerNotFound)
		assert.Nil(t, retrievedPlayer)
	})

	t.Run("GetByRoomID follows membership changes", func(t *testing.T) {
		ctx, _, playerRepo := newStore(t)

		// Given: a host and a guest in room 123 and a stranger in room 456
		host := entity.NewHost("conn-1", "123")
		guest := entity.NewGuest("conn-2", "123", "Bob", entity.TurnO)
		stranger := entity.NewHost("conn-3", "456")
		require.NoError(t, playerRepo.CreateOrUpdate(ctx, guest))
		require.NoError(t, playerRepo.CreateOrUpdate(ctx, stranger))
		require.NoError(t, playerRepo.CreateOrUpdate(ctx, host))

		// When: listing room 123
		members, err := playerRepo.GetByRoomID(ctx, "123")

		// Then: both members are returned ordered by turn, X first
		require.NoError(t, err)
		assert.Equal(t, []*entity.Player{host, guest}, members)

		// When: the guest moves to room 456
		guest.RoomID = "456"
		require.NoError(t, playerRepo.CreateOrUpdate(ctx, guest))

		// Then: room 123 only lists the host
		members, err = playerRepo.GetByRoomID(ctx, "123")
		require.NoError(t, err)
		assert.Equal(t, []*entity.Player{host}, members)

		// When: the host is deleted
		require.NoError(t, playerRepo.DeleteByID(ctx, host.ID))

		// Then: room 123 is empty
		members, err = playerRepo.GetByRoomID(ctx, "123")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("Score update persists", func(t *testing.T) {
		ctx, _, playerRepo := newStore(t)

		player := entity.NewHost("conn-1", "123")
		require.NoError(t, playerRepo.CreateOrUpdate(ctx, player))

		player.Score++
		player.Online = false
		require.NoError(t, playerRepo.CreateOrUpdate(ctx, player))

		retrievedPlayer, err := playerRepo.GetByID(ctx, player.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, retrievedPlayer.Score)
		assert.False(t, retrievedPlayer.Online)
	})

	t.Run("DeleteByID on a missing player is a no-op", func(t *testing.T) {
		ctx, _, playerRepo := newStore(t)

		require.NoError(t, playerRepo.DeleteByID(ctx, "9999999"))
	})
}
