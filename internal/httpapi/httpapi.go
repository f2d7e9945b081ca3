// Package httpapi exposes the doorbells of every set up account over HTTP
// and streams bus events over a WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/event"
	"github.com/trymwestin/fenotek/internal/core/registry"
	"github.com/trymwestin/fenotek/internal/core/state"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// Accounts is the part of the registry the API serves.
type Accounts interface {
	Entries() []*registry.Entry
	Get(username string) (*registry.Entry, error)
	FindDevice(id string) (*registry.Entry, *device.Doorbell, error)
	Bus() *state.EventBus
}

// Server is the HTTP API server.
type Server struct {
	accounts Accounts
	corsAll  bool
	log      *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// NewServer creates a new HTTP API server.
func NewServer(accounts Accounts, corsAll bool, log *slog.Logger) *Server {
	s := &Server{
		accounts: accounts,
		corsAll:  corsAll,
		log:      log,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if corsAll {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if !s.corsAll {
		return s.mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /api/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	s.mux.HandleFunc("GET /api/devices/{id}/events", s.handleGetEvents)
	s.mux.HandleFunc("GET /api/devices/{id}/last/{kind}", s.handleGetLast)
	s.mux.HandleFunc("GET /api/devices/{id}/media/{kind}", s.handleGetMedia)

	s.mux.HandleFunc("POST /api/devices/{id}/relays/{relay}/activate", s.handleActivateRelay)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/interval", s.handleGetInterval)
	s.mux.HandleFunc("POST /api/interval", s.handleSetInterval)

	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// device resolves the {id} path value, answering 404 when unknown.
func (s *Server) device(w http.ResponseWriter, r *http.Request) (*registry.Entry, *device.Doorbell, bool) {
	entry, d, err := s.accounts.FindDevice(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return nil, nil, false
	}
	return entry, d, true
}

// targets returns the entry named by ?account=, or every entry.
func (s *Server) targets(w http.ResponseWriter, account string) ([]*registry.Entry, bool) {
	if account == "" {
		return s.accounts.Entries(), true
	}
	entry, err := s.accounts.Get(account)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return []*registry.Entry{entry}, true
}

// --- Handlers ---

type statusResponse struct {
	Accounts []state.Status `json:"accounts"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Accounts: []state.Status{}}
	for _, e := range s.accounts.Entries() {
		resp.Accounts = append(resp.Accounts, e.Store.Status())
	}
	s.writeJSON(w, resp)
}

type deviceResponse struct {
	Account string `json:"account"`
	device.View
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	out := []deviceResponse{}
	for _, e := range s.accounts.Entries() {
		snap := e.Store.Snapshot()
		for _, id := range snap.IDs() {
			out = append(out, deviceResponse{Account: e.Username(), View: snap.Devices[id].View()})
		}
	}
	s.writeJSON(w, map[string]interface{}{"devices": out})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	entry, d, ok := s.device(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, deviceResponse{Account: entry.Username(), View: d.View()})
}

// handleGetEvents lists the event window, optionally narrowed by ?sub= and
// truncated to the newest ?limit= events.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	_, d, ok := s.device(w, r)
	if !ok {
		return
	}

	events := d.Events()
	if sub := r.URL.Query().Get("sub"); sub != "" {
		events = event.Filter(events, event.IsSub(event.SubCategory(sub)))
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(events) {
			events = events[len(events)-limit:]
		}
	}
	if events == nil {
		events = []event.Event{}
	}
	s.writeJSON(w, map[string]interface{}{"events": events})
}

// lastOf resolves the {kind} path value against d.
func (s *Server) lastOf(w http.ResponseWriter, r *http.Request, d *device.Doorbell) (event.Event, bool) {
	kind, err := device.ParseKind(r.PathValue("kind"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return event.Event{}, false
	}
	ev, ok := d.LastOf(kind)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no "+string(kind)+" event")
		return event.Event{}, false
	}
	return ev, true
}

func (s *Server) handleGetLast(w http.ResponseWriter, r *http.Request) {
	_, d, ok := s.device(w, r)
	if !ok {
		return
	}
	ev, ok := s.lastOf(w, r, d)
	if !ok {
		return
	}
	s.writeJSON(w, ev)
}

// handleGetMedia proxies the still image of the last event of a kind, or its
// video with ?video=true, through the authenticated session.
func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	entry, d, ok := s.device(w, r)
	if !ok {
		return
	}
	ev, ok := s.lastOf(w, r, d)
	if !ok {
		return
	}

	url := ev.StillURL()
	if video, _ := strconv.ParseBool(r.URL.Query().Get("video")); video {
		url = ev.VideoURL()
	}
	if url == "" {
		s.writeError(w, http.StatusNotFound, "event has no media")
		return
	}

	data, contentType, err := entry.Client.FetchMedia(r.Context(), url)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "failed to fetch media: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.log.Debug("media write failed", "device_id", d.ID(), "error", err)
	}
}

func (s *Server) handleActivateRelay(w http.ResponseWriter, r *http.Request) {
	entry, d, ok := s.device(w, r)
	if !ok {
		return
	}
	relayID := r.PathValue("relay")

	activated, err := entry.ActivateRelay(r.Context(), d.ID(), relayID)
	switch {
	case errors.Is(err, device.ErrUnknownRelay):
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	case !activated:
		s.writeError(w, http.StatusBadGateway, "relay activation rejected")
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// handleRefresh asks for a cycle. With ?wait=true the cycle runs in the
// request and its outcome is returned.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.targets(w, r.URL.Query().Get("account"))
	if !ok {
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		for _, e := range entries {
			e.Coordinator.RequestRefresh()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "scheduled"})
		return
	}

	for _, e := range entries {
		if err := e.Coordinator.Refresh(context.WithoutCancel(r.Context())); err != nil {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

type intervalResponse struct {
	Account    string  `json:"account"`
	Seconds    float64 `json:"seconds"`
	MinSeconds float64 `json:"min_seconds"`
	MaxSeconds float64 `json:"max_seconds"`
}

func interval(e *registry.Entry) intervalResponse {
	lo, hi := e.Coordinator.Bounds()
	return intervalResponse{
		Account:    e.Username(),
		Seconds:    e.Coordinator.Interval().Seconds(),
		MinSeconds: lo.Seconds(),
		MaxSeconds: hi.Seconds(),
	}
}

func (s *Server) handleGetInterval(w http.ResponseWriter, r *http.Request) {
	entries, ok := s.targets(w, r.URL.Query().Get("account"))
	if !ok {
		return
	}
	out := make([]intervalResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, interval(e))
	}
	s.writeJSON(w, map[string]interface{}{"intervals": out})
}

type intervalBody struct {
	Account string  `json:"account"`
	Seconds float64 `json:"seconds"`
}

// handleSetInterval clamps and applies the interval, then asks for a cycle
// so the new value is armed right away.
func (s *Server) handleSetInterval(w http.ResponseWriter, r *http.Request) {
	var body intervalBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Seconds <= 0 {
		s.writeError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}
	entries, ok := s.targets(w, body.Account)
	if !ok {
		return
	}

	out := make([]intervalResponse, 0, len(entries))
	for _, e := range entries {
		e.Coordinator.SetInterval(time.Duration(body.Seconds * float64(time.Second)))
		e.Coordinator.RequestRefresh()
		out = append(out, interval(e))
	}
	s.writeJSON(w, map[string]interface{}{"intervals": out})
}

// handleWebSocket streams every bus event as a JSON text message until the
// client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsub := s.accounts.Bus().Subscribe(64)
	defer unsub()

	// The reader only notices the close frame; clients send nothing else.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	s.log.Debug("websocket client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-closed:
			s.log.Debug("websocket client disconnected", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
