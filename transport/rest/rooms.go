package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/rocketscienceinc/tictactoe-rooms/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-rooms/internal/entity"
)

const qrSize = 320

type RoomHandlers interface {
	GetRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params)
	GetRoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params)
}

type roomGetter interface {
	GetRoom(ctx context.Context, roomID string) (*entity.Room, error)
}

type roomHandlers struct {
	logger    *slog.Logger
	rooms     roomGetter
	publicURL string
}

// NewRoomHandlers - publicURL is the address players open in a browser. When empty it is derived from the request.
func NewRoomHandlers(logger *slog.Logger, rooms roomGetter, publicURL string) RoomHandlers {
	return &roomHandlers{
		logger:    logger,
		rooms:     rooms,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func (that *roomHandlers) GetRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	log := that.logger.With("method", "GetRoom")

	room, ok := that.lookup(w, r, ps.ByName("id"))
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(room); err != nil {
		log.Error("failed to write room", "error", err)
	}
}

func (that *roomHandlers) GetRoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	log := that.logger.With("method", "GetRoomQR")

	room, ok := that.lookup(w, r, ps.ByName("id"))
	if !ok {
		return
	}

	png, err := qrcode.Encode(that.joinURL(r, room.ID), qrcode.Medium, qrSize)
	if err != nil {
		log.Error("failed to generate qr code", "error", err)
		http.Error(w, "qr generation failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err = w.Write(png); err != nil {
		log.Error("failed to write qr code", "error", err)
	}
}

func (that *roomHandlers) lookup(w http.ResponseWriter, r *http.Request, roomID string) (*entity.Room, bool) {
	room, err := that.rooms.GetRoom(r.Context(), roomID)
	if errors.Is(err, apperror.ErrRoomNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}

	if err != nil {
		that.logger.Error("failed to get room", "roomId", roomID, "error", err)
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)

		return nil, false
	}

	return room, true
}

// joinURL - link that opens the client with the room code prefilled.
func (that *roomHandlers) joinURL(r *http.Request, roomID string) string {
	base := that.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}

		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		base = scheme + "://" + r.Host
	}

	return base + "/?room=" + url.QueryEscape(roomID)
}
