// Package httpapi exposes the lobby, the ledger and the notification channel
// over HTTP, and provides the matching client.
package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/lobby"
	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/store"
	"github.com/roach88/syncboard/internal/template"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// CreateRoomRequest is the body of POST /rooms. Template takes precedence
// over Preset; with neither, the "simple" preset is used.
type CreateRoomRequest struct {
	Preset       string         `json:"preset,omitempty"`
	Template     *room.Template `json:"template,omitempty"`
	HostID       string         `json:"host_id"`
	Participants []string       `json:"participants,omitempty"`
}

// JoinRequest is the body of POST /rooms/{id}/join. A nil Seat picks the
// first free seat.
type JoinRequest struct {
	ParticipantID string `json:"participant_id"`
	Seat          *int   `json:"seat,omitempty"`
}

// TemplateRequest is the body of PUT /rooms/{id}/template. Template takes
// precedence over Preset; one of them is required.
type TemplateRequest struct {
	Preset   string         `json:"preset,omitempty"`
	Template *room.Template `json:"template,omitempty"`
}

// StatusRequest is the body of PUT /rooms/{id}/status.
type StatusRequest struct {
	Status room.Status `json:"status"`
}

// OpsRequest is the body of POST /rooms/{id}/ops.
type OpsRequest struct {
	Operation ledger.Operation `json:"operationName"`
	Args      json.RawMessage  `json:"operationArgs,omitempty"`
}

// Server routes HTTP requests to the lobby and the ledger.
type Server struct {
	lobby   *lobby.Lobby
	engine  *ledger.Engine
	store   *store.Store
	ws      *notify.WSHandler
	metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
		}
	}
}

// NewServer creates a server. ws may be nil to disable notifications.
func NewServer(l *lobby.Lobby, e *ledger.Engine, st *store.Store, ws *notify.WSHandler, opts ...Option) *Server {
	s := &Server{lobby: l, engine: e, store: st, ws: ws}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /rooms", s.handleCreate)
	mux.HandleFunc("GET /rooms/{id}", s.handleGet)
	mux.HandleFunc("DELETE /rooms/{id}", s.handleDelete)
	mux.HandleFunc("POST /rooms/{id}/join", s.handleJoin)
	mux.HandleFunc("PUT /rooms/{id}/status", s.handleStatus)
	mux.HandleFunc("PUT /rooms/{id}/template", s.handleTemplate)
	mux.HandleFunc("POST /rooms/{id}/ops", s.handleOps)
	mux.HandleFunc("GET /rooms/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /rooms/{id}/settlements", s.handleSettlements)
	mux.HandleFunc("GET /codes/{code}", s.handleFindByCode)
	if s.ws != nil {
		mux.HandleFunc("GET /rooms/{id}/ws", s.handleWS)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return logRequests(mux)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body CreateRoomRequest
	if !decodeBody(w, r, &body) {
		return
	}

	preset := body.Preset
	if preset == "" {
		preset = "simple"
	}
	tmpl, ok := resolveTemplate(w, preset, body.Template)
	if !ok {
		return
	}

	created, err := s.lobby.Create(r.Context(), lobby.CreateRequest{
		Template:     tmpl,
		HostID:       body.HostID,
		Participants: body.Participants,
	})
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// resolveTemplate picks the inline template or the named preset, writing a
// 400 when neither resolves.
func resolveTemplate(w http.ResponseWriter, preset string, inline *room.Template) (room.Template, bool) {
	if inline != nil {
		return *inline, true
	}
	if preset == "" {
		writeError(w, http.StatusBadRequest, "template or preset is required")
		return room.Template{}, false
	}
	tmpl, ok := template.Preset(preset)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown preset %q", preset))
		return room.Template{}, false
	}
	return tmpl, true
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	var body TemplateRequest
	if !decodeBody(w, r, &body) {
		return
	}
	tmpl, ok := resolveTemplate(w, body.Preset, body.Template)
	if !ok {
		return
	}
	updated, err := s.lobby.UpdateTemplate(r.Context(), r.PathValue("id"), tmpl)
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	got, err := s.lobby.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.lobby.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeLobbyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var body JoinRequest
	if !decodeBody(w, r, &body) {
		return
	}
	seat := lobby.AnySeat
	if body.Seat != nil {
		seat = *body.Seat
	}
	joined, err := s.lobby.Join(r.Context(), r.PathValue("id"), body.ParticipantID, seat)
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joined)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusRequest
	if !decodeBody(w, r, &body) {
		return
	}
	updated, err := s.lobby.SetStatus(r.Context(), r.PathValue("id"), body.Status)
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleFindByCode(w http.ResponseWriter, r *http.Request) {
	found, err := s.lobby.FindByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeLobbyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// handleOps always answers with a ledger.Response body; the status code
// mirrors its error code.
func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	var body OpsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	resp := s.engine.Execute(r.Context(), ledger.Request{
		RoomID:    r.PathValue("id"),
		Operation: body.Operation,
		Args:      body.Args,
	})
	writeJSON(w, opsStatus(resp), resp)
}

func opsStatus(resp ledger.Response) int {
	switch {
	case resp.Success:
		return http.StatusOK
	case resp.Code == ledger.CodeRoomNotFound:
		return http.StatusNotFound
	case resp.Code == ledger.CodeValidation:
		return http.StatusBadRequest
	case resp.Code == ledger.CodePermissionDenied:
		return http.StatusForbidden
	case resp.Code == ledger.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.roomExists(w, r, id) {
		return
	}
	entries, err := s.store.ListHistory(r.Context(), id)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.roomExists(w, r, id) {
		return
	}
	settlements, err := s.store.ListSettlements(r.Context(), id)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlements)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.roomExists(w, r, id) {
		return
	}
	s.ws.ServeRoom(w, r, id)
}

func (s *Server) roomExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := s.lobby.Get(r.Context(), id); err != nil {
		writeLobbyError(w, err)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return false
	}
	return true
}

func writeLobbyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lobby.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lobby.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lobby.ErrSeatTaken), errors.Is(err, lobby.ErrRoomFull):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeInternal(w, err)
	}
}

func writeInternal(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket handler take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
