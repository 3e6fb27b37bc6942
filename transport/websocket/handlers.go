package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/tictactoe"
)

// userErrors are reported back to the sender as an error event.
var userErrors = []error{
	apperror.ErrAlreadyInRoom,
	apperror.ErrRoomNotFound,
	apperror.ErrRoomFull,
	apperror.ErrPlayerNotFound,
}

// moveErrors are expected during play and only logged.
var moveErrors = []error{
	apperror.ErrInvalidMove,
	apperror.ErrNotYourTurn,
	apperror.ErrGameIsNotStarted,
	apperror.ErrGameFinished,
}

func (that *Server) handleCreateRoom(ctx context.Context, c *client, _ *Message) error {
	connID := that.hub.connID(c)

	_, err := that.manager.CreateRoom(ctx, connID)

	return that.reply(connID, actionCreateRoom, err)
}

func (that *Server) handleDeleteRoom(ctx context.Context, c *client, msg *Message) error {
	connID := that.hub.connID(c)

	var req roomRequest
	if err := that.decode(msg, &req); err != nil {
		that.sendError(connID, err.Error())
		return nil
	}

	return that.reply(connID, actionDeleteRoom, that.manager.DeleteRoom(ctx, req.RoomID))
}

func (that *Server) handleJoinRoom(ctx context.Context, c *client, msg *Message) error {
	connID := that.hub.connID(c)

	var req joinRequest
	if err := that.decode(msg, &req); err != nil {
		that.sendError(connID, err.Error())
		return nil
	}

	return that.reply(connID, actionJoinRoom, that.manager.JoinRoom(ctx, connID, req.RoomID, req.PlayerName))
}

func (that *Server) handleLeaveRoom(ctx context.Context, c *client, msg *Message) error {
	connID := that.hub.connID(c)

	var req joinRequest
	if err := that.decode(msg, &req); err != nil {
		that.sendError(connID, err.Error())
		return nil
	}

	return that.reply(connID, actionLeaveRoom, that.manager.LeaveRoom(ctx, connID, req.RoomID))
}

func (that *Server) handlePlay(ctx context.Context, c *client, msg *Message) error {
	connID := that.hub.connID(c)
	log := that.logger.With("method", "handlePlay", "connId", connID)

	var req playRequest
	if err := that.decode(msg, &req); err != nil {
		log.Debug("malformed move", "error", err)
		return nil
	}

	position, err := tictactoe.ParseTile(req.Tile)
	if err != nil {
		log.Debug("move rejected", "tile", req.Tile, "error", err)
		return nil
	}

	err = that.manager.Play(ctx, connID, req.RoomID, position)
	if isOneOf(err, moveErrors) || errors.Is(err, apperror.ErrPlayerNotFound) {
		log.Debug("move rejected", "roomId", req.RoomID, "tile", req.Tile, "error", err)
		return nil
	}

	return that.reply(connID, actionPlay, err)
}

func (that *Server) handleRestartGame(ctx context.Context, c *client, msg *Message) error {
	connID := that.hub.connID(c)

	var req roomRequest
	if err := that.decode(msg, &req); err != nil {
		that.sendError(connID, err.Error())
		return nil
	}

	err := that.manager.Restart(ctx, connID, req.RoomID)
	if errors.Is(err, apperror.ErrGameIsNotFinished) || errors.Is(err, apperror.ErrGameIsNotStarted) {
		that.sendError(connID, err.Error())
		return nil
	}

	return that.reply(connID, actionRestartGame, err)
}

func (that *Server) handleReconnect(ctx context.Context, c *client, msg *Message) error {
	connID := that.hub.connID(c)

	var req reconnectRequest
	if err := that.decode(msg, &req); err != nil {
		that.sendError(connID, err.Error())
		return nil
	}

	err := that.manager.Reconnect(ctx, connID, req.ConnID)
	if errors.Is(err, ErrConnectionInUse) {
		that.sendError(connID, err.Error())
		return nil
	}

	return that.reply(connID, actionReconnect, err)
}

// decode - unmarshals and validates the payload of msg into req.
func (that *Server) decode(msg *Message, req any) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("payload is required for %s", msg.Action)
	}

	if err := json.Unmarshal(msg.Payload, req); err != nil {
		return fmt.Errorf("malformed payload for %s", msg.Action)
	}

	if err := that.validate.Struct(req); err != nil {
		return fmt.Errorf("invalid payload for %s: %w", msg.Action, err)
	}

	return nil
}

// reply - routes a session manager error. User errors go back to the sender, store errors are only logged.
func (that *Server) reply(connID, action string, err error) error {
	if err == nil {
		return nil
	}

	for _, target := range userErrors {
		if errors.Is(err, target) {
			that.sendError(connID, target.Error())
			return nil
		}
	}

	if errors.Is(err, apperror.ErrStoreUnavailable) {
		return fmt.Errorf("%s dropped: %w", action, err)
	}

	return fmt.Errorf("failed to handle %s: %w", action, err)
}

func isOneOf(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
