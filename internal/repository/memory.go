package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

// MemoryStorage keeps rooms and players in process. Used for local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	rooms   map[string]entity.Room
	players map[string]entity.Player
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		rooms:   make(map[string]entity.Room),
		players: make(map[string]entity.Player),
	}
}

type memoryRoom struct {
	storage *MemoryStorage
}

type memoryPlayer struct {
	storage *MemoryStorage
}

func NewMemoryRoomRepository(storage *MemoryStorage) RoomRepository {
	return &memoryRoom{storage: storage}
}

func NewMemoryPlayerRepository(storage *MemoryStorage) PlayerRepository {
	return &memoryPlayer{storage: storage}
}

func (that *memoryRoom) CreateOrUpdate(_ context.Context, room *entity.Room) error {
	that.storage.mu.Lock()
	defer that.storage.mu.Unlock()

	that.storage.rooms[room.ID] = *room

	return nil
}

func (that *memoryRoom) GetByID(_ context.Context, id string) (*entity.Room, error) {
	that.storage.mu.RLock()
	defer that.storage.mu.RUnlock()

	room, ok := that.storage.rooms[id]
	if !ok {
		return nil, apperror.ErrRoomNotFound
	}

	return &room, nil
}

func (that *memoryRoom) DeleteByID(_ context.Context, id string) error {
	that.storage.mu.Lock()
	defer that.storage.mu.Unlock()

	delete(that.storage.rooms, id)

	return nil
}

func (that *memoryPlayer) CreateOrUpdate(_ context.Context, player *entity.Player) error {
	that.storage.mu.Lock()
	defer that.storage.mu.Unlock()

	that.storage.players[player.ID] = *player

	return nil
}

func (that *memoryPlayer) GetByID(_ context.Context, id string) (*entity.Player, error) {
	that.storage.mu.RLock()
	defer that.storage.mu.RUnlock()

	player, ok := that.storage.players[id]
	if !ok {
		return nil, apperror.ErrPlayerNotFound
	}

	return &player, nil
}

func (that *memoryPlayer) GetByRoomID(_ context.Context, roomID string) ([]*entity.Player, error) {
	that.storage.mu.RLock()
	defer that.storage.mu.RUnlock()

	var players []*entity.Player
	for _, player := range that.storage.players {
		if player.RoomID == roomID {
			p := player
			players = append(players, &p)
		}
	}

	sort.Slice(players, func(i, j int) bool {
		return players[i].Turn < players[j].Turn
	})

	return players, nil
}

func (that *memoryPlayer) DeleteByID(_ context.Context, id string) error {
	that.storage.mu.Lock()
	defer that.storage.mu.Unlock()

	delete(that.storage.players, id)

	return nil
}
