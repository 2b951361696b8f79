package chat

import "sync"

// RoomIndex maps a conversation id to the set of live connections subscribed
// to it. A room is pruned as soon as its member set empties.
type RoomIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// NewRoomIndex bootstraps an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{rooms: make(map[string]map[string]struct{})}
}

// Add subscribes a connection to a conversation.
func (r *RoomIndex) Add(chatID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[chatID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[chatID] = members
	}
	members[connID] = struct{}{}
}

// Remove unsubscribes a connection, deleting the room if it empties.
func (r *RoomIndex) Remove(chatID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[chatID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, chatID)
	}
}

// Members returns a snapshot of the connection ids in a conversation.
func (r *RoomIndex) Members(chatID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[chatID]
	if len(members) == 0 {
		return nil
	}
	snapshot := make([]string, 0, len(members))
	for connID := range members {
		snapshot = append(snapshot, connID)
	}
	return snapshot
}
