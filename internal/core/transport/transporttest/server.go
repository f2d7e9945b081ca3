// Package transporttest provides an in-process fake of the Fenotek backend
// for tests.
package transporttest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/trymwestin/fenotek/internal/core/transport"
	"github.com/trymwestin/fenotek/internal/core/transport/wire"
)

// Credentials accepted by a fresh Server.
const (
	Username = "owner@example.com"
	Password = "secret"
	Token    = "tok-123"
)

// Device is the fake state of one doorbell.
type Device struct {
	Profile       wire.Visiophone
	Home          wire.Home
	Notifications []wire.Notification
	// PageSize splits Notifications into pages; 0 serves a single page.
	PageSize        int
	PingOK          bool
	ActivationError string
	SchemaError     string
}

// Server is a fake backend. All setters are safe to call while requests are
// in flight.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	password  string
	devices   map[string]*Device
	order     []string
	documents map[string]string
	media     map[string][]byte
	failures  map[string]int
	hits      map[string]int
	logins    int
	released  chan struct{}
}

// NewServer starts a fake backend that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		password:  Password,
		devices:   make(map[string]*Device),
		documents: make(map[string]string),
		media:     make(map[string][]byte),
		failures:  make(map[string]int),
		hits:      make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authenticate", s.handleLogin)
	mux.HandleFunc("GET /user/visiophones", s.authed(s.handleDevices))
	mux.HandleFunc("GET /visiophones/{id}", s.authed(s.handleDevice))
	mux.HandleFunc("GET /page/{id}/home", s.authed(s.handleHome))
	mux.HandleFunc("GET /visiophones/{id}/notifications", s.authed(s.handleNotifications))
	mux.HandleFunc("POST /visiophones/{id}/ping", s.authed(s.handlePing))
	mux.HandleFunc("POST /visiophones/{id}/drycontacts/{relay}/activate", s.authed(s.handleActivate))
	mux.HandleFunc("GET /docs/{name}", s.authed(s.handleDocument))
	mux.HandleFunc("GET /media/{name}", s.authed(s.handleMedia))

	s.Server = httptest.NewServer(s.count(mux))
	t.Cleanup(s.Close)
	return s
}

// Config returns a transport configuration aimed at this server.
func (s *Server) Config() transport.Config {
	return transport.Config{
		BaseURL:  s.URL,
		Username: Username,
		Password: Password,
		Timezone: "Europe/Paris",
	}
}

// AddDevice registers a doorbell. Devices are listed in insertion order.
func (s *Server) AddDevice(id string, d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Profile.ID == "" {
		d.Profile.ID = id
	}
	if _, ok := s.devices[id]; !ok {
		s.order = append(s.order, id)
	}
	s.devices[id] = &d
}

// Update mutates a registered doorbell under the server lock.
func (s *Server) Update(id string, fn func(d *Device)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[id]; ok {
		fn(d)
	}
}

// SetDocument serves {"data":{"url":url}} at /docs/{name} and returns the
// absolute URL of the document.
func (s *Server) SetDocument(name, url string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[name] = url
	return s.URL + "/docs/" + name
}

// SetMedia serves raw bytes at /media/{name} and returns its absolute URL.
func (s *Server) SetMedia(name string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[name] = data
	return s.URL + "/media/" + name
}

// Fail makes every request to path answer with status. Status 0 clears it.
func (s *Server) Fail(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, path)
		return
	}
	s.failures[path] = status
}

// RejectLogins makes the server refuse the configured password.
func (s *Server) RejectLogins() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = ""
}

// HoldLogins blocks login requests until the returned func is called.
func (s *Server) HoldLogins() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.released = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Logins returns the number of login requests served.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Hits returns the number of requests received for path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		status, failing := s.failures[r.URL.Path]
		s.mu.Unlock()

		if failing {
			http.Error(w, "forced failure", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(transport.TokenHeader) != Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r)
	}
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) (*Device, bool) {
	s.mu.Lock()
	d, ok := s.devices[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
	return d, ok
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	s.mu.Lock()
	s.logins++
	hold := s.released
	password := s.password
	s.mu.Unlock()

	if hold != nil {
		<-hold
	}

	if req.Email != Username || req.Password != password || password == "" {
		writeJSON(w, http.StatusOK, wire.LoginResponse{Error: "Wrong email or password"})
		return
	}
	writeJSON(w, http.StatusOK, wire.LoginResponse{Token: Token})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, wire.DevicesResponse{Visiophones: ids})
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, d.Profile)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, d.Home)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := d.Notifications
	size := d.PageSize
	if size <= 0 {
		writeJSON(w, http.StatusOK, wire.NotificationsPage{Page: 1, Pages: 1, Notifications: all})
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pages := (len(all) + size - 1) / size
	start := (page - 1) * size
	end := start + size
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	writeJSON(w, http.StatusOK, wire.NotificationsPage{Page: page, Pages: pages, Notifications: all[start:end]})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, wire.PingResponse{Success: d.PingOK})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	d, ok := s.device(w, r)
	if !ok {
		return
	}
	var body wire.ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ActivationError != "" {
		res := wire.ActivateResponse{Error: d.ActivationError}
		if d.SchemaError != "" {
			res.SchemaError = &wire.SchemaError{Message: d.SchemaError}
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	for _, dc := range d.Profile.DryContacts {
		if dc.ID == r.PathValue("relay") {
			writeJSON(w, http.StatusOK, wire.ActivateResponse{Success: true})
			return
		}
	}
	writeJSON(w, http.StatusOK, wire.ActivateResponse{Error: "Not found", SchemaError: &wire.SchemaError{Message: "unknown dry contact"}})
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	url, ok := s.documents[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	var doc wire.MediaDocument
	doc.Data.URL = url
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.media[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Notification builds a raw notification for tests.
func Notification(id, category string, subType int, createdAt string) wire.Notification {
	return wire.Notification{
		ID:        id,
		Type:      category,
		Detail:    wire.NotificationDetail{Type: wire.Int(subType)},
		CreatedAt: createdAt,
	}
}
