// Package httpapi exposes the panel's operator-facing REST and WebSocket
// surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wapanel/wapanel/internal/bus"
	"github.com/wapanel/wapanel/internal/convo"
	"github.com/wapanel/wapanel/internal/device"
	"github.com/wapanel/wapanel/internal/status"
)

// Server serves the operator API for one panel instance.
type Server struct {
	registry *device.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	origins  []string
}

// NewServer creates a server. origins lists browser origins allowed to
// call the API; empty allows none beyond same-origin requests.
func NewServer(registry *device.Registry, b *bus.Bus, origins []string, logger *zap.Logger) *Server {
	return &Server{registry: registry, bus: b, logger: logger, origins: origins}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.listDevices)
		r.Post("/devices", s.addDevice)
		r.Route("/devices/{device}", func(r chi.Router) {
			r.Delete("/", s.removeDevice)
			r.Get("/qr", s.pairQR)
			r.Post("/reset", s.resetCache)
			r.Post("/backfill", s.backfill)
			r.Get("/search", s.search)
			r.Get("/conversations", s.listConversations)
			r.Route("/conversations/{convo}", func(r chi.Router) {
				r.Get("/messages", s.listMessages)
				r.Post("/messages", s.sendMessage)
				r.Post("/read", s.markRead)
				r.Post("/rename", s.rename)
			})
		})
		r.Get("/ws", s.serveWS)
	})
	return r
}

// deviceInfo is the wire shape of one registered device.
type deviceInfo struct {
	ID    string       `json:"id"`
	State status.State `json:"state"`
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devs := s.registry.List()
	out := make([]deviceInfo, len(devs))
	for i, d := range devs {
		out[i] = deviceInfo{ID: d.ID, State: d.Status()}
	}
	s.respond(w, http.StatusOK, out)
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	d, err := s.registry.Add(r.Context(), req.ID)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.respond(w, http.StatusCreated, deviceInfo{ID: d.ID, State: d.Status()})
}

func (s *Server) removeDevice(w http.ResponseWriter, r *http.Request) {
	err := s.registry.Remove(r.Context(), chi.URLParam(r, "device"))
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) *device.Device {
	d, err := s.registry.Get(chi.URLParam(r, "device"))
	if err != nil {
		s.fail(w, http.StatusNotFound, err)
		return nil
	}
	return d
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	convos, err := d.Conversations()
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, convos)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := d.Messages(chi.URLParam(r, "convo"), limit)
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, msgs)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	var req struct {
		Text    string `json:"text"`
		Path    string `json:"path"`
		Mime    string `json:"mime"`
		Caption string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	convoID := chi.URLParam(r, "convo")

	var (
		msgID string
		err   error
	)
	if req.Path != "" {
		msgID, err = d.SendMedia(r.Context(), convoID, req.Path, req.Mime, req.Caption)
	} else {
		msgID, err = d.SendText(r.Context(), convoID, req.Text)
	}
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusAccepted, map[string]string{"msg_id": msgID})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	if err := d.MarkRead(chi.URLParam(r, "convo")); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rename(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := d.Rename(chi.URLParam(r, "convo"), req.Name); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	q := r.URL.Query()
	if q.Get("q") == "" {
		s.fail(w, http.StatusBadRequest, errors.New("missing query parameter q"))
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	hits, err := d.Search(q.Get("q"), q.Get("convo"), limit)
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, hits)
}

func (s *Server) resetCache(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	if err := d.ResetCache(); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) backfill(w http.ResponseWriter, r *http.Request) {
	d := s.device(w, r)
	if d == nil {
		return
	}
	merged, err := d.Backfill()
	if err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int64{"merged": merged})
}

func (s *Server) respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrUnknownDevice), errors.Is(err, convo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, device.ErrStopped), errors.Is(err, device.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, device.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
