package server

import "strings"

// PrivateRoomPrefix is reserved for per-user notification rooms.
const PrivateRoomPrefix = "user:"

// PrivateRoom returns the room every connection of userID is joined to.
func PrivateRoom(userID string) string {
	return PrivateRoomPrefix + userID
}

func isPrivateRoom(room string) bool {
	return strings.HasPrefix(room, PrivateRoomPrefix)
}

// roomStore tracks which clients are in which rooms. Rooms exist only while
// they have members. Like the presence registry it belongs to the hub loop.
type roomStore struct {
	members map[string]map[*Client]struct{}
}

func newRoomStore() *roomStore {
	return &roomStore{members: make(map[string]map[*Client]struct{})}
}

func (s *roomStore) join(c *Client, room string) {
	set, ok := s.members[room]
	if !ok {
		set = make(map[*Client]struct{})
		s.members[room] = set
	}
	set[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (s *roomStore) leave(c *Client, room string) {
	delete(c.rooms, room)

	set, ok := s.members[room]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(s.members, room)
	}
}

// dropClient removes c from every room it joined.
func (s *roomStore) dropClient(c *Client) {
	for room := range c.rooms {
		s.leave(c, room)
	}
}

// recipients returns the members of room, skipping except when non-nil.
func (s *roomStore) recipients(room string, except *Client) []*Client {
	set := s.members[room]
	out := make([]*Client, 0, len(set))
	for c := range set {
		if c == except {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *roomStore) size(room string) int {
	return len(s.members[room])
}
