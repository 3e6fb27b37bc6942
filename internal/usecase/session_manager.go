package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/tictactoe"
)

const (
	defaultStoreTimeout     = 3 * time.Second
	defaultReconnectTimeout = 30 * time.Second

	maxRoomIDAttempts = 5
)

//go:generate mockery --name=roomRepoDep --output=../../mocks/usecase --outpkg=usecase --with-expecter
type roomRepoDep interface {
	CreateOrUpdate(ctx context.Context, room *entity.Room) error
	GetByID(ctx context.Context, id string) (*entity.Room, error)
	DeleteByID(ctx context.Context, id string) error
}

//go:generate mockery --name=playerRepoDep --output=../../mocks/usecase --outpkg=usecase --with-expecter
type playerRepoDep interface {
	CreateOrUpdate(ctx context.Context, player *entity.Player) error
	GetByID(ctx context.Context, id string) (*entity.Player, error)
	GetByRoomID(ctx context.Context, roomID string) ([]*entity.Player, error)
	DeleteByID(ctx context.Context, id string) error
}

// Transport delivers events to room groups and single connections.
type Transport interface {
	Subscribe(roomID, connID string)
	Unsubscribe(roomID, connID string)
	HasSubscribers(roomID string) bool
	Broadcast(roomID, action string, payload any)
	Send(connID, action string, payload any)
	CloseRoom(roomID string)
	// Rebind moves the connection registered as connID under previousConnID.
	Rebind(connID, previousConnID string) error
}

type Options struct {
	StoreTimeout     time.Duration
	ReconnectTimeout time.Duration
}

// SessionManager owns the room lifecycle. Every operation touching a room runs under that room's lock.
type SessionManager struct {
	logger *slog.Logger

	roomRepo   roomRepoDep
	playerRepo playerRepoDep
	transport  Transport

	locks *roomLocks

	storeTimeout     time.Duration
	reconnectTimeout time.Duration

	pendingMu sync.Mutex
	pending   map[string]*time.Timer

	newRoomID func() (string, error)
}

func NewSessionManager(
	logger *slog.Logger,
	roomRepo roomRepoDep,
	playerRepo playerRepoDep,
	transport Transport,
	opts Options,
) *SessionManager {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}

	if opts.ReconnectTimeout <= 0 {
		opts.ReconnectTimeout = defaultReconnectTimeout
	}

	return &SessionManager{
		logger: logger,

		roomRepo:   roomRepo,
		playerRepo: playerRepo,
		transport:  transport,

		locks: newRoomLocks(),

		storeTimeout:     opts.StoreTimeout,
		reconnectTimeout: opts.ReconnectTimeout,

		pending: make(map[string]*time.Timer),

		newRoomID: pkg.GenerateRoomID,
	}
}

// CreateRoom - opens a new room with connID as its host.
func (that *SessionManager) CreateRoom(ctx context.Context, connID string) (string, error) {
	log := that.logger.With("method", "CreateRoom", "connId", connID)

	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	if err := that.leaveCurrentRoom(ctx, connID); err != nil {
		return "", fmt.Errorf("failed to leave previous room: %w", err)
	}

	for range maxRoomIDAttempts {
		roomID, err := that.newRoomID()
		if err != nil {
			return "", fmt.Errorf("%w: %w", apperror.ErrStoreUnavailable, err)
		}

		created, err := that.tryCreateRoom(ctx, connID, roomID)
		if err != nil {
			return "", err
		}

		if created {
			log.Info("room created", "roomId", roomID)

			return roomID, nil
		}

		log.Debug("room id already taken", "roomId", roomID)
	}

	return "", fmt.Errorf("%w: no free room id after %d attempts", apperror.ErrStoreUnavailable, maxRoomIDAttempts)
}

func (that *SessionManager) tryCreateRoom(ctx context.Context, connID, roomID string) (bool, error) {
	unlock := that.locks.Lock(roomID)
	defer unlock()

	_, err := that.roomRepo.GetByID(ctx, roomID)
	if err == nil {
		return false, nil
	}

	if !errors.Is(err, apperror.ErrRoomNotFound) {
		return false, storeError("failed to check room id", err)
	}

	room := entity.NewRoom(roomID)
	if err = that.roomRepo.CreateOrUpdate(ctx, room); err != nil {
		return false, storeError("failed to create room", err)
	}

	host := entity.NewHost(connID, roomID)
	if err = that.playerRepo.CreateOrUpdate(ctx, host); err != nil {
		that.dropRoom(ctx, roomID)

		return false, storeError("failed to create host", err)
	}

	that.transport.Subscribe(roomID, connID)
	that.transport.Send(connID, ActionRoomCreated, RoomCreatedPayload{RoomID: roomID, ConnID: connID})

	return true, nil
}

// DeleteRoom - tears a room down along with its members. A missing room is not an error.
func (that *SessionManager) DeleteRoom(ctx context.Context, roomID string) error {
	log := that.logger.With("method", "DeleteRoom", "roomId", roomID)

	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	unlock := that.locks.Lock(roomID)
	defer unlock()

	_, err := that.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		that.transport.CloseRoom(roomID)

		return nil
	}

	if err != nil {
		return storeError("failed to get room", err)
	}

	members, err := that.playerRepo.GetByRoomID(ctx, roomID)
	if err != nil {
		return storeError("failed to get room members", err)
	}

	if err = that.roomRepo.DeleteByID(ctx, roomID); err != nil {
		return storeError("failed to delete room", err)
	}

	// the room is gone from here on, leftover members are dropped as stale on their next intent
	var memberErr error
	for _, member := range members {
		that.cancelExpiry(member.ID)

		if err = that.playerRepo.DeleteByID(ctx, member.ID); err != nil && memberErr == nil {
			memberErr = storeError("failed to delete member", err)
		}
	}

	that.transport.Broadcast(roomID, ActionRoomDeleted, RoomDeletedPayload{})
	that.transport.CloseRoom(roomID)

	if memberErr != nil {
		return memberErr
	}

	log.Info("room deleted", "members", len(members))

	return nil
}

// JoinRoom - admits connID as the second participant of roomID.
func (that *SessionManager) JoinRoom(ctx context.Context, connID, roomID, playerName string) error {
	log := that.logger.With("method", "JoinRoom", "connId", connID, "roomId", roomID)

	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	current, err := that.playerRepo.GetByID(ctx, connID)
	if err != nil && !errors.Is(err, apperror.ErrPlayerNotFound) {
		return storeError("failed to get player", err)
	}

	var previousRoomID string
	if current != nil {
		if current.RoomID == roomID {
			return fmt.Errorf("%w: %w", apperror.ErrRoomFull, apperror.ErrAlreadyInRoom)
		}

		previousRoomID = current.RoomID
	}

	unlock := that.locks.LockAll(roomID, previousRoomID)
	defer unlock()

	room, err := that.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return apperror.ErrRoomNotFound
	}

	if err != nil {
		return storeError("failed to get room", err)
	}

	if !that.transport.HasSubscribers(roomID) {
		return apperror.ErrRoomNotFound
	}

	if room.Full {
		return apperror.ErrRoomFull
	}

	members, err := that.playerRepo.GetByRoomID(ctx, roomID)
	if err != nil {
		return storeError("failed to get room members", err)
	}

	turn, ok := freeTurn(members)
	if !ok {
		return apperror.ErrRoomFull
	}

	if previousRoomID != "" {
		if err = that.leaveLocked(ctx, connID, previousRoomID); err != nil {
			return fmt.Errorf("failed to leave previous room: %w", err)
		}
	}

	player := entity.NewGuest(connID, roomID, playerName, turn)
	if err = that.playerRepo.CreateOrUpdate(ctx, player); err != nil {
		return storeError("failed to create player", err)
	}

	room.Full = true
	if err = that.roomRepo.CreateOrUpdate(ctx, room); err != nil {
		return storeError("failed to update room", err)
	}

	that.transport.Subscribe(roomID, connID)
	that.transport.Broadcast(roomID, ActionPlayerJoined, PlayerPayload{
		RoomID:     roomID,
		PlayerName: player.Name,
		ConnID:     connID,
	})
	that.transport.Broadcast(roomID, ActionGameStart, GameStartPayload{Room: room})

	log.Info("player joined", "turn", turn)

	return nil
}

// LeaveRoom - removes connID from roomID. The board is kept until someone else joins or the room empties.
func (that *SessionManager) LeaveRoom(ctx context.Context, connID, roomID string) error {
	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	unlock := that.locks.Lock(roomID)
	defer unlock()

	return that.leaveRoomLocked(ctx, connID, roomID)
}

func (that *SessionManager) leaveRoomLocked(ctx context.Context, connID, roomID string) error {
	log := that.logger.With("method", "leaveRoom", "connId", connID, "roomId", roomID)

	player, err := that.playerRepo.GetByID(ctx, connID)
	if errors.Is(err, apperror.ErrPlayerNotFound) {
		return apperror.ErrPlayerNotFound
	}

	if err != nil {
		return storeError("failed to get player", err)
	}

	room, err := that.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return apperror.ErrRoomNotFound
	}

	if err != nil {
		return storeError("failed to get room", err)
	}

	if player.RoomID != roomID {
		return apperror.ErrRoomNotFound
	}

	that.cancelExpiry(connID)
	that.transport.Unsubscribe(roomID, connID)

	if err = that.playerRepo.DeleteByID(ctx, connID); err != nil {
		return storeError("failed to delete player", err)
	}

	members, err := that.playerRepo.GetByRoomID(ctx, roomID)
	if err != nil {
		return storeError("failed to get room members", err)
	}

	if len(members) == 0 {
		if err = that.roomRepo.DeleteByID(ctx, roomID); err != nil {
			return storeError("failed to delete empty room", err)
		}

		that.transport.CloseRoom(roomID)
		log.Info("last player left, room deleted")

		return nil
	}

	room.Full = false
	if err = that.roomRepo.CreateOrUpdate(ctx, room); err != nil {
		return storeError("failed to update room", err)
	}

	that.transport.Broadcast(roomID, ActionPlayerLeft, PlayerPayload{
		RoomID:     roomID,
		PlayerName: player.Name,
		ConnID:     connID,
	})

	log.Info("player left")

	return nil
}

// Play - applies a move for connID at the 0-based board position.
func (that *SessionManager) Play(ctx context.Context, connID, roomID string, position int) error {
	log := that.logger.With("method", "Play", "connId", connID, "roomId", roomID)

	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	unlock := that.locks.Lock(roomID)
	defer unlock()

	room, err := that.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return nil
	}

	if err != nil {
		return storeError("failed to get room", err)
	}

	player, err := that.member(ctx, connID, roomID)
	if err != nil {
		return err
	}

	switch {
	case room.IsFinished():
		return apperror.ErrGameFinished
	case !room.Full:
		return apperror.ErrGameIsNotStarted
	case player.Turn != room.Turn:
		return apperror.ErrNotYourTurn
	}

	symbol := tictactoe.SymbolForTurn(room.Turn)

	board, err := tictactoe.ApplyMove(room.Board, position, symbol)
	if err != nil {
		return fmt.Errorf("failed to apply move: %w", err)
	}

	room.Board = board
	room.GameState = tictactoe.Evaluate(board)
	room.Turn = tictactoe.NextTurn(room.Turn)

	if err = that.roomRepo.CreateOrUpdate(ctx, room); err != nil {
		return storeError("failed to update room", err)
	}

	if room.GameState == entity.StateWin {
		player.Score++
		if err = that.playerRepo.CreateOrUpdate(ctx, player); err != nil {
			log.Error("failed to update score", "error", err)
		}
	}

	that.transport.Broadcast(roomID, ActionValidPlay, ValidPlayPayload{
		ID:   tictactoe.TileID(position),
		Text: symbol.String(),
	})

	if !room.IsFinished() {
		return nil
	}

	winner := tictactoe.TieMarker
	if room.GameState == entity.StateWin {
		winner = connID
	}

	that.transport.Broadcast(roomID, ActionGameOver, GameOverPayload{Winner: winner})

	log.Info("game over", "state", room.GameState.String(), "winner", winner)

	return nil
}

// Restart - clears the board of a finished game so the same two players can go again.
func (that *SessionManager) Restart(ctx context.Context, connID, roomID string) error {
	log := that.logger.With("method", "Restart", "connId", connID, "roomId", roomID)

	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	unlock := that.locks.Lock(roomID)
	defer unlock()

	room, err := that.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return apperror.ErrRoomNotFound
	}

	if err != nil {
		return storeError("failed to get room", err)
	}

	if _, err = that.member(ctx, connID, roomID); err != nil {
		return err
	}

	if !room.Full {
		return apperror.ErrGameIsNotStarted
	}

	if !room.IsFinished() {
		return apperror.ErrGameIsNotFinished
	}

	room.Reset()
	if err = that.roomRepo.CreateOrUpdate(ctx, room); err != nil {
		return storeError("failed to reset room", err)
	}

	that.transport.Broadcast(roomID, ActionGameStart, GameStartPayload{Room: room})

	log.Info("game restarted")

	return nil
}

// GetRoom - returns the current snapshot of a room.
func (that *SessionManager) GetRoom(ctx context.Context, roomID string) (*entity.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	room, err := that.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return nil, apperror.ErrRoomNotFound
	}

	if err != nil {
		return nil, storeError("failed to get room", err)
	}

	return room, nil
}

// Disconnect - marks the player offline and gives them reconnectTimeout to come back.
func (that *SessionManager) Disconnect(ctx context.Context, connID string) {
	log := that.logger.With("method", "Disconnect", "connId", connID)

	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	player, err := that.playerRepo.GetByID(ctx, connID)
	if errors.Is(err, apperror.ErrPlayerNotFound) {
		return
	}

	if err != nil {
		log.Error("failed to get player", "error", err)

		return
	}

	unlock := that.locks.Lock(player.RoomID)
	defer unlock()

	that.transport.Unsubscribe(player.RoomID, connID)

	player.Online = false
	if err = that.playerRepo.CreateOrUpdate(ctx, player); err != nil {
		log.Error("failed to mark player offline", "error", err)
	}

	that.scheduleExpiry(connID)

	log.Info("player offline", "roomId", player.RoomID, "timeout", that.reconnectTimeout.String())
}

// Reconnect - binds the connection connID back to previousConnID if its grace period is still running.
func (that *SessionManager) Reconnect(ctx context.Context, connID, previousConnID string) error {
	log := that.logger.With("method", "Reconnect", "connId", connID, "previousConnId", previousConnID)

	ctx, cancel := context.WithTimeout(ctx, that.storeTimeout)
	defer cancel()

	if !that.hasExpiry(previousConnID) {
		return apperror.ErrPlayerNotFound
	}

	player, err := that.playerRepo.GetByID(ctx, previousConnID)
	if errors.Is(err, apperror.ErrPlayerNotFound) {
		return apperror.ErrPlayerNotFound
	}

	if err != nil {
		return storeError("failed to get player", err)
	}

	roomID := player.RoomID

	// a room already held under the fresh id is given up
	var freshRoomID string

	fresh, err := that.playerRepo.GetByID(ctx, connID)
	switch {
	case err == nil:
		freshRoomID = fresh.RoomID
	case !errors.Is(err, apperror.ErrPlayerNotFound):
		return storeError("failed to get player", err)
	}

	unlock := that.locks.LockAll(roomID, freshRoomID)
	defer unlock()

	// the grace timer may have fired while we waited for the lock
	player, err = that.member(ctx, previousConnID, roomID)
	if err != nil {
		return err
	}

	room, err := that.roomRepo.GetByID(ctx, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		return apperror.ErrRoomNotFound
	}

	if err != nil {
		return storeError("failed to get room", err)
	}

	if err = that.transport.Rebind(connID, previousConnID); err != nil {
		return fmt.Errorf("failed to rebind connection: %w", err)
	}

	that.cancelExpiry(previousConnID)

	if freshRoomID != "" {
		if err = that.leaveLocked(ctx, connID, freshRoomID); err != nil {
			log.Error("failed to leave room of the fresh connection", "roomId", freshRoomID, "error", err)
		}
	}

	player.Online = true
	if err = that.playerRepo.CreateOrUpdate(ctx, player); err != nil {
		return storeError("failed to mark player online", err)
	}

	that.transport.Subscribe(roomID, previousConnID)
	that.transport.Send(previousConnID, ActionGameStart, GameStartPayload{Room: room})

	log.Info("player reconnected", "roomId", roomID)

	return nil
}

// Close - stops pending reconnect timers.
func (that *SessionManager) Close() {
	that.pendingMu.Lock()
	defer that.pendingMu.Unlock()

	for connID, timer := range that.pending {
		timer.Stop()
		delete(that.pending, connID)
	}
}

func (that *SessionManager) expire(connID string) {
	log := that.logger.With("method", "expire", "connId", connID)

	that.pendingMu.Lock()
	delete(that.pending, connID)
	that.pendingMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), that.storeTimeout)
	defer cancel()

	player, err := that.playerRepo.GetByID(ctx, connID)
	if err != nil {
		if !errors.Is(err, apperror.ErrPlayerNotFound) {
			log.Error("failed to get player", "error", err)
		}

		return
	}

	unlock := that.locks.Lock(player.RoomID)
	defer unlock()

	player, err = that.playerRepo.GetByID(ctx, connID)
	if err != nil || player.Online {
		return
	}

	if err = that.leaveLocked(ctx, connID, player.RoomID); err != nil {
		log.Error("failed to remove offline player", "error", err)

		return
	}

	log.Info("reconnect window expired")
}

func (that *SessionManager) scheduleExpiry(connID string) {
	that.pendingMu.Lock()
	defer that.pendingMu.Unlock()

	if timer, ok := that.pending[connID]; ok {
		timer.Stop()
	}

	that.pending[connID] = time.AfterFunc(that.reconnectTimeout, func() {
		that.expire(connID)
	})
}

func (that *SessionManager) cancelExpiry(connID string) {
	that.pendingMu.Lock()
	defer that.pendingMu.Unlock()

	if timer, ok := that.pending[connID]; ok {
		timer.Stop()
		delete(that.pending, connID)
	}
}

func (that *SessionManager) hasExpiry(connID string) bool {
	that.pendingMu.Lock()
	defer that.pendingMu.Unlock()

	_, ok := that.pending[connID]

	return ok
}

// leaveCurrentRoom - drops whatever room connID is in. Stale player records are removed.
func (that *SessionManager) leaveCurrentRoom(ctx context.Context, connID string) error {
	player, err := that.playerRepo.GetByID(ctx, connID)
	if errors.Is(err, apperror.ErrPlayerNotFound) {
		return nil
	}

	if err != nil {
		return storeError("failed to get player", err)
	}

	unlock := that.locks.Lock(player.RoomID)
	defer unlock()

	return that.leaveLocked(ctx, connID, player.RoomID)
}

// leaveLocked - like leaveRoomLocked, but a player already gone or left without a room is not an error.
func (that *SessionManager) leaveLocked(ctx context.Context, connID, roomID string) error {
	err := that.leaveRoomLocked(ctx, connID, roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		if err = that.playerRepo.DeleteByID(ctx, connID); err != nil {
			return storeError("failed to delete stale player", err)
		}

		return nil
	}

	if errors.Is(err, apperror.ErrPlayerNotFound) {
		return nil
	}

	return err
}

func (that *SessionManager) member(ctx context.Context, connID, roomID string) (*entity.Player, error) {
	player, err := that.playerRepo.GetByID(ctx, connID)
	if errors.Is(err, apperror.ErrPlayerNotFound) {
		return nil, apperror.ErrPlayerNotFound
	}

	if err != nil {
		return nil, storeError("failed to get player", err)
	}

	if player.RoomID != roomID {
		return nil, apperror.ErrPlayerNotFound
	}

	return player, nil
}

func (that *SessionManager) dropRoom(ctx context.Context, roomID string) {
	if err := that.roomRepo.DeleteByID(ctx, roomID); err != nil {
		that.logger.Error("failed to drop half-created room", "roomId", roomID, "error", err)
	}
}

// freeTurn - picks the symbol slot nobody in members holds. O is preferred for a second player.
func freeTurn(members []*entity.Player) (int, bool) {
	taken := map[int]bool{}
	for _, member := range members {
		taken[member.Turn] = true
	}

	switch {
	case !taken[entity.TurnO]:
		if len(members) == 0 {
			return entity.TurnX, true
		}

		return entity.TurnO, true
	case !taken[entity.TurnX]:
		return entity.TurnX, true
	default:
		return 0, false
	}
}

func storeError(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, apperror.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w: %w", msg, apperror.ErrStoreUnavailable, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}
