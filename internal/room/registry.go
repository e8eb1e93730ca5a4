package room

import (
	"sync"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
)

// Registry is the process-wide meetingCode -> Room map (§5: short
// exclusive guard, no suspension points while it's held). Grounded on
// the teacher's WebSocketServer.connections map + mutex pattern,
// generalized from connection objects to whole Room aggregates.
type Registry struct {
	adapter ports.SFUAdapter

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(adapter ports.SFUAdapter) *Registry {
	return &Registry{
		adapter: adapter,
		rooms:   make(map[string]*Room),
	}
}

// GetOrCreate returns the existing Room for meetingCode, or provisions a
// fresh one (new worker/router pair) if none is live yet. The worker
// acquisition and router creation happen outside the map guard so the
// lock is never held across a call into the adapter.
func (r *Registry) GetOrCreate(meetingCode string, meetingID domain.MeetingID) (ports.Room, error) {
	r.mu.Lock()
	if existing, ok := r.rooms[meetingCode]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	w, err := r.adapter.NextWorker()
	if err != nil {
		return nil, err
	}
	router, err := w.CreateRouter()
	if err != nil {
		return nil, err
	}
	newRoom := NewRoom(meetingID, meetingCode, r.adapter, router)

	r.mu.Lock()
	if existing, ok := r.rooms[meetingCode]; ok {
		r.mu.Unlock()
		newRoom.Close()
		return existing, nil
	}
	r.rooms[meetingCode] = newRoom
	r.mu.Unlock()
	return newRoom, nil
}

func (r *Registry) Get(meetingCode string) (ports.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[meetingCode]
	return room, ok
}

// Count reports the number of live rooms, for the /health endpoint (§4.10).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) Remove(meetingCode string) {
	r.mu.Lock()
	room, ok := r.rooms[meetingCode]
	delete(r.rooms, meetingCode)
	r.mu.Unlock()
	if ok {
		room.Close()
	}
}
