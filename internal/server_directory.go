package internal

import (
	"sort"
	"sync"
)

// Directory maps room ids to their members and is the single source of truth
// for presence. One lock guards every room so a room switch is never observed
// half done.
type Directory struct {
	mu       sync.RWMutex
	rooms    map[string]*roomMembers
	memberOf map[string]string
}

// members in join order, unique by connection id
type roomMembers struct {
	order []string
	byID  map[string]Connection
}

func newRoomMembers() *roomMembers {
	return &roomMembers{byID: make(map[string]Connection)}
}

func (room *roomMembers) add(conn Connection) {
	if _, exists := room.byID[conn.ID]; !exists {
		room.order = append(room.order, conn.ID)
	}
	room.byID[conn.ID] = conn
}

func (room *roomMembers) remove(id string) {
	if _, exists := room.byID[id]; !exists {
		return
	}
	delete(room.byID, id)
	for idx, member := range room.order {
		if member == id {
			room.order = append(room.order[:idx], room.order[idx+1:]...)
			break
		}
	}
}

func (room *roomMembers) connections() []Connection {
	out := make([]Connection, 0, len(room.order))
	for _, id := range room.order {
		out = append(out, room.byID[id])
	}
	return out
}

func (room *roomMembers) usernames() []string {
	out := make([]string, 0, len(room.order))
	for _, id := range room.order {
		out = append(out, room.byID[id].Username)
	}
	return out
}

func NewDirectory() *Directory {
	return &Directory{
		rooms:    make(map[string]*roomMembers),
		memberOf: make(map[string]string),
	}
}

// Join places conn in room. If conn was in a different room it is removed
// from it first, under the same lock. previous reports that old room and moved
// is true only when a different room was left.
func (d *Directory) Join(room string, conn Connection) (previous string, moved bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, ok := d.memberOf[conn.ID]; ok && current != room {
		d.removeLocked(conn.ID, current)
		previous, moved = current, true
	}
	members, exists := d.rooms[room]
	if !exists {
		members = newRoomMembers()
		d.rooms[room] = members
	}
	members.add(conn)
	d.memberOf[conn.ID] = room
	return previous, moved
}

// Leave removes the connection from whatever room it occupies.
func (d *Directory) Leave(id string) (room string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok = d.memberOf[id]
	if !ok {
		return "", false
	}
	d.removeLocked(id, room)
	return room, true
}

func (d *Directory) removeLocked(id, room string) {
	delete(d.memberOf, id)
	members, exists := d.rooms[room]
	if !exists {
		return
	}
	members.remove(id)
	if len(members.order) == 0 {
		delete(d.rooms, room)
	}
}

func (d *Directory) RoomOf(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room, ok := d.memberOf[id]
	return room, ok
}

// MembersOf returns the members of room in join order. Unknown rooms yield an
// empty slice.
func (d *Directory) MembersOf(room string) []Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, exists := d.rooms[room]
	if !exists {
		return []Connection{}
	}
	return members.connections()
}

func (d *Directory) Usernames(room string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, exists := d.rooms[room]
	if !exists {
		return []string{}
	}
	return members.usernames()
}

// ListRooms snapshots every non-empty room, ordered by room id.
func (d *Directory) ListRooms() []RoomSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	summaries := make([]RoomSummary, 0, len(d.rooms))
	for key, members := range d.rooms {
		summaries = append(summaries, RoomSummary{
			RoomID:    key,
			UserCount: len(members.order),
			Users:     members.usernames(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].RoomID < summaries[j].RoomID
	})
	return summaries
}

// Exists reports whether room currently has at least one member.
func (d *Directory) Exists(room string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[room]
	return ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
