// Package api provides an HTTP API for a running cowrite session.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/replica"
	"github.com/amaydixit11/cowrite/internal/session"
	"github.com/amaydixit11/cowrite/internal/transport"
)

// Session is the part of *session.Session the API serves.
type Session interface {
	RoomID() core.RoomID
	ReplicaID() core.ReplicaID
	ConnectionID() string
	Text() string
	Len() int
	Insert(index int, text string) error
	Delete(index, count int) error
	SetText(text string) error
	SetPresence(f awareness.Fields) error
	Participants() []awareness.Participant
	Status() transport.Status
	Subscribe(opts session.SubscriptionOptions) session.Subscription
}

var _ Session = (*session.Session)(nil)

// Server is the HTTP API server
type Server struct {
	session Session
	router  *mux.Router
}

// New creates a new API server
func New(s Session) *Server {
	srv := &Server{session: s, router: mux.NewRouter()}
	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/text", s.getText).Methods(http.MethodGet)
	s.router.HandleFunc("/text", s.putText).Methods(http.MethodPut)
	s.router.HandleFunc("/insert", s.insert).Methods(http.MethodPost)
	s.router.HandleFunc("/delete", s.delete).Methods(http.MethodPost)
	s.router.HandleFunc("/participants", s.participants).Methods(http.MethodGet)
	s.router.HandleFunc("/presence", s.putPresence).Methods(http.MethodPut)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

type statusResponse struct {
	Room         core.RoomID      `json:"room"`
	ReplicaID    core.ReplicaID   `json:"replica_id"`
	ConnectionID string           `json:"connection_id"`
	Length       int              `json:"length"`
	Participants int              `json:"participants"`
	Network      transport.Status `json:"network"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Room:         s.session.RoomID(),
		ReplicaID:    s.session.ReplicaID(),
		ConnectionID: s.session.ConnectionID(),
		Length:       s.session.Len(),
		Participants: len(s.session.Participants()),
		Network:      s.session.Status(),
	})
}

type textBody struct {
	Text string `json:"text"`
}

func (s *Server) getText(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, textBody{Text: s.session.Text()})
}

func (s *Server) putText(w http.ResponseWriter, r *http.Request) {
	var req textBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.session.SetText(req.Text); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.session.Insert(req.Index, req.Text); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, textBody{Text: s.session.Text()})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int `json:"index"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.session.Delete(req.Index, req.Count); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, textBody{Text: s.session.Text()})
}

func (s *Server) participants(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.session.Participants())
}

func (s *Server) putPresence(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string `json:"name"`
		Color       *string `json:"color"`
		Cursor      *int    `json:"cursor"`
		ClearCursor bool    `json:"clear_cursor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	err := s.session.SetPresence(awareness.Fields{
		Name:        req.Name,
		Color:       req.Color,
		Cursor:      req.Cursor,
		ClearCursor: req.ClearCursor,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Server-Sent Events
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	var opts session.SubscriptionOptions
	if t := r.URL.Query().Get("type"); t != "" {
		opts.Events = []session.EventType{session.EventType(t)}
	}
	sub := s.session.Subscribe(opts)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			data, _ := json.Marshal(event)
			w.Write([]byte("event: " + string(event.Type) + "\ndata: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func respondError(w http.ResponseWriter, err error) {
	var rangeErr *replica.RangeError
	if errors.As(err, &rangeErr) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
