package internal

import "sync"

// Hub tracks the live rooms, one per chat with at least one connected
// participant.
type Hub struct {
	mutex sync.RWMutex
	rooms map[string]*Room
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*Room)}
}

// Exists reports whether a chat currently has a live room. Used by the
// lightweight /exists probe.
func (hub *Hub) Exists(chatID string) bool {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	_, ok := hub.rooms[chatID]
	return ok
}

// getOrCreateRoom ensures there is a running Room for the chat.
func (hub *Hub) getOrCreateRoom(chatID string) *Room {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[chatID]; exists {
		return room
	}
	room := newRoom(chatID)
	hub.rooms[chatID] = room
	go room.run()
	return room
}

func (hub *Hub) deleteRoomIfEmpty(chatID string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if room, exists := hub.rooms[chatID]; exists {
		if room.size() == 0 {
			delete(hub.rooms, chatID)
		}
	}
}
