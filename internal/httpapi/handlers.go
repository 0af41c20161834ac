package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/d-j7code/GOOGLY/internal/hub"
	"github.com/d-j7code/GOOGLY/internal/lobby"
	"github.com/d-j7code/GOOGLY/pkg/types"
)

const lookupTimeout = 2 * time.Second

type StatsResponse struct {
	Rooms int `json:"rooms"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func Stats(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
		defer cancel()

		n, err := h.Count(ctx)
		if err != nil {
			logger.Warn("count rooms", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, StatsResponse{Rooms: n})
	}
}

// GetRoom returns the current snapshot of a room, as its players see it.
func GetRoom(h *hub.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
		defer cancel()

		lb, err := h.Get(ctx, code)
		if err != nil {
			roomError(w, logger, code, err)
			return
		}
		view, err := lb.View(ctx)
		if err != nil {
			roomError(w, logger, code, err)
			return
		}
		writeJSON(w, http.StatusOK, view.Game)
	}
}

func roomError(w http.ResponseWriter, logger *zap.Logger, code string, err error) {
	if errors.Is(err, hub.ErrRoomNotFound) || errors.Is(err, lobby.ErrClosed) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: types.ErrRoomNotFound})
		return
	}
	logger.Warn("room lookup", zap.String("room", code), zap.Error(err))
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
