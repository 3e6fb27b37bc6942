package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const playerKeyPrefix = "player:"

type PlayerRepository interface {
	CreateOrUpdate(ctx context.Context, player *entity.Player) error
	GetByID(ctx context.Context, id string) (*entity.Player, error)
	GetByRoomID(ctx context.Context, roomID string) ([]*entity.Player, error)
	DeleteByID(ctx context.Context, id string) error
}

// dbPlayer keeps every player as a JSON value and indexes room membership in a set per room.
type dbPlayer struct {
	client *redis.Client
}

func NewPlayerRepository(client *redis.Client) PlayerRepository {
	return &dbPlayer{
		client: client,
	}
}

func playerKey(id string) string {
	return playerKeyPrefix + id
}

func (that *dbPlayer) CreateOrUpdate(ctx context.Context, player *entity.Player) error {
	playerJSON, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	previous, err := that.GetByID(ctx, player.ID)
	if err != nil && !errors.Is(err, apperror.ErrPlayerNotFound) {
		return err
	}

	_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != nil && previous.RoomID != "" && previous.RoomID != player.RoomID {
			pipe.SRem(ctx, roomMembersKey(previous.RoomID), player.ID)
		}

		pipe.Set(ctx, playerKey(player.ID), playerJSON, 0)

		if player.RoomID != "" {
			pipe.SAdd(ctx, roomMembersKey(player.RoomID), player.ID)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to set player: %w", apperror.ErrStoreUnavailable, err)
	}

	return nil
}

func (that *dbPlayer) GetByID(ctx context.Context, id string) (*entity.Player, error) {
	response, err := that.client.Get(ctx, playerKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrPlayerNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to get player by ID: %w", apperror.ErrStoreUnavailable, err)
	}

	var existingPlayer entity.Player
	if err = json.Unmarshal([]byte(response), &existingPlayer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal player: %w", err)
	}

	return &existingPlayer, nil
}

func (that *dbPlayer) GetByRoomID(ctx context.Context, roomID string) ([]*entity.Player, error) {
	ids, err := that.client.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list room members: %w", apperror.ErrStoreUnavailable, err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, playerKey(id))
	}

	values, err := that.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get room members: %w", apperror.ErrStoreUnavailable, err)
	}

	players := make([]*entity.Player, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}

		var player entity.Player
		if err = json.Unmarshal([]byte(raw), &player); err != nil {
			return nil, fmt.Errorf("failed to unmarshal player: %w", err)
		}

		// the index may lag behind a player that already moved on
		if player.RoomID == roomID {
			players = append(players, &player)
		}
	}

	sort.Slice(players, func(i, j int) bool {
		return players[i].Turn < players[j].Turn
	})

	return players, nil
}

func (that *dbPlayer) DeleteByID(ctx context.Context, id string) error {
	existing, err := that.GetByID(ctx, id)
	if errors.Is(err, apperror.ErrPlayerNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	_, err = that.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, playerKey(id))

		if existing.RoomID != "" {
			pipe.SRem(ctx, roomMembersKey(existing.RoomID), id)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: failed to delete player by ID: %w", apperror.ErrStoreUnavailable, err)
	}

	return nil
}
