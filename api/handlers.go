package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/chatkeep/core"
	"github.com/poiesic/chatkeep/metrics"
)

// maxBodySize bounds request bodies.
const maxBodySize = 8 << 20

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", "err", err)
	}
}

// writeCachedJson writes v with an ETag and answers 304 when the client
// already holds the same representation.
func (s *Server) writeCachedJson(w http.ResponseWriter, r *http.Request, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	etag := etagFor(body)
	w.Header().Set("ETag", etag)
	if notModified(r, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n'))
}

func (s *Server) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", "err", errResp)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError(fmt.Errorf("%w: request body: %w", core.ErrInvalidInput, err))
	}
	return nil
}

func roomIDParam(r *http.Request) (core.RoomID, error) {
	id, err := int64Param(r, "roomId")
	return core.RoomID(id), err
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, NewBadRequestError(fmt.Errorf("%w: %s %q is not an integer", core.ErrInvalidInput, name, raw))
	}
	return v, nil
}

// windowParams parses the room ID and the [start, end) window of a route.
func windowParams(r *http.Request) (core.RoomID, int64, int64, error) {
	roomID, err := roomIDParam(r)
	if err != nil {
		return 0, 0, 0, err
	}
	start, err := int64Param(r, "start")
	if err != nil {
		return 0, 0, 0, err
	}
	end, err := int64Param(r, "end")
	if err != nil {
		return 0, 0, 0, err
	}
	return roomID, start, end, nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			s.log.Error("health check failed", "err", err)
			s.writeJson(w, http.StatusServiceUnavailable, &ApiError{
				StatusCode: http.StatusServiceUnavailable,
				Message:    "store unavailable",
			})
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var room core.Room
	if err := s.decode(w, r, &room); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	if err := s.repo.CreateRoom(r.Context(), &room); err != nil {
		s.writeError(w, errorFor(err))
		return
	}
	metrics.RoomsCreated.Inc()
	s.writeJson(w, http.StatusCreated, "created")
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	id, err := roomIDParam(r)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	room, err := s.repo.GetRoom(r.Context(), id)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}
	if room == nil {
		s.writeError(w, NewNotFoundError("room not found"))
		return
	}
	s.writeCachedJson(w, r, room)
}

func (s *Server) addMessages(w http.ResponseWriter, r *http.Request) {
	var batch core.MessageBatch
	if err := s.decode(w, r, &batch); err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	if err := s.repo.AddMessages(r.Context(), batch.ChatRoomID, batch.Messages); err != nil {
		s.writeError(w, errorFor(err))
		return
	}
	metrics.MessagesAdded.Add(float64(len(batch.Messages)))
	s.writeJson(w, http.StatusOK, "added")
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	roomID, start, end, err := windowParams(r)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	messages, err := s.repo.GetMessages(r.Context(), roomID, start, end)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}
	if messages == nil {
		messages = []core.Message{}
	}
	s.writeCachedJson(w, r, messages)
}

func (s *Server) countLongPauses(w http.ResponseWriter, r *http.Request) {
	roomID, start, end, err := windowParams(r)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}

	n, err := s.repo.CountLongPauses(r.Context(), roomID, start, end)
	if err != nil {
		s.writeError(w, errorFor(err))
		return
	}
	s.writeJson(w, http.StatusOK, n)
}
