// Package web serves training progress over HTTP and streams new epochs
// to websocket clients.
package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"holdout-forge/internal/chart"
	"holdout-forge/internal/metrics"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server publishes epoch reports. Register it as a trainer.Reporter and
// mount Handler on an http.Server.
type Server struct {
	plots *chart.Recorder

	mu      sync.Mutex
	epochs  []metrics.Epoch
	clients map[*websocket.Conn]struct{}
}

// NewServer returns a server that draws its plots from plots.
func NewServer(plots *chart.Recorder) *Server {
	return &Server{
		plots:   plots,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/epochs", s.listEpochs).Methods(http.MethodGet)
	r.HandleFunc("/api/epochs/{n:[0-9]+}", s.getEpoch).Methods(http.MethodGet)
	r.HandleFunc("/plot/{kind:(?:loss|accuracy)}.svg", s.plot).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.stream)
	return r
}

// Report stores e and sends it to every connected websocket client.
// Clients that fail to receive it are dropped.
func (s *Server) Report(e metrics.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epochs = append(s.epochs, e)
	for conn := range s.clients {
		if err := send(conn, e); err != nil {
			log.Printf("web: drop client %s: %v", conn.RemoteAddr(), err)
			s.dropLocked(conn)
		}
	}
	return nil
}

// Close disconnects every websocket client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		s.dropLocked(conn)
	}
}

func (s *Server) listEpochs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	epochs := append([]metrics.Epoch{}, s.epochs...)
	s.mu.Unlock()
	writeJSON(w, epochs)
}

func (s *Server) getEpoch(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["n"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	var (
		e     metrics.Epoch
		found bool
	)
	for _, candidate := range s.epochs {
		if candidate.Epoch == n {
			e, found = candidate, true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, e)
}

func (s *Server) plot(w http.ResponseWriter, r *http.Request) {
	kind := chart.Kind(mux.Vars(r)["kind"])
	w.Header().Set("Content-Type", "image/svg+xml")
	if err := s.plots.WriteSVG(w, kind); err != nil {
		log.Printf("web: plot %s: %v", kind, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// stream replays the history to a new client and then registers it for
// live reports. Both happen under the lock so no epoch is missed or repeated.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: upgrade: %v", err)
		return
	}
	s.mu.Lock()
	for _, e := range s.epochs {
		if err := send(conn, e); err != nil {
			s.mu.Unlock()
			log.Printf("web: replay to %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
	}
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	go s.readUntilClosed(conn)
}

// readUntilClosed discards client messages and unregisters the connection
// once it fails.
func (s *Server) readUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			s.mu.Lock()
			s.dropLocked(conn)
			s.mu.Unlock()
			return
		}
	}
}

func (s *Server) dropLocked(conn *websocket.Conn) {
	if _, ok := s.clients[conn]; !ok {
		return
	}
	delete(s.clients, conn)
	conn.Close()
}

func send(conn *websocket.Conn, e metrics.Epoch) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}
