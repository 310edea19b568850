package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/taxi-dispatch/internal/models"
)

const writeWait = 5 * time.Second

var ErrNoSession = errors.New("no ws session")

// WSSession is one connected client.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ev models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds one live session per principal and pushes each event
// to the ride's passenger and driver.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for principalID, closing any session it replaces.
func (r *WSRegistry) Add(principalID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[principalID]
	r.sessions[principalID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove drops the session only if it is still the current one.
func (r *WSRegistry) Remove(principalID string, s *WSSession) {
	r.mu.Lock()
	if r.sessions[principalID] == s {
		delete(r.sessions, principalID)
	}
	r.mu.Unlock()
}

// Serve registers conn and blocks reading until the client goes away.
// Inbound frames are discarded; the stream is server to client only.
func (r *WSRegistry) Serve(principalID string, conn *websocket.Conn) {
	s := r.Add(principalID, conn)
	defer func() {
		r.Remove(principalID, s)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (r *WSRegistry) Connected(principalID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[principalID]
	return ok
}

func (r *WSRegistry) Send(principalID string, ev models.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[principalID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(ev)
}

func (r *WSRegistry) Name() string { return "websocket" }

// Publish sends ev to whichever parties are connected. Offline parties are
// not an error.
func (r *WSRegistry) Publish(_ context.Context, ev models.Event) error {
	var errs []error
	for _, id := range []string{ev.PassengerID, ev.DriverID} {
		if id == "" {
			continue
		}
		if err := r.Send(id, ev); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
