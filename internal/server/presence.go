package server

import "sort"

// presenceRegistry maps users to their open connection ids. A user key
// exists only while at least one of its connections is open. It is owned by
// the hub loop and must not be touched from other goroutines.
type presenceRegistry struct {
	byUser map[string]map[string]struct{}
	byConn map[string]string
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// add records connID for userID and reports whether this was the user's
// first open connection.
func (p *presenceRegistry) add(userID, connID string) bool {
	if owner, ok := p.byConn[connID]; ok {
		if owner == userID {
			return false
		}
		p.remove(connID)
	}

	conns, ok := p.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		p.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	p.byConn[connID] = userID

	return !ok
}

// remove drops connID and reports its owner and whether that was the
// owner's last connection. Unknown ids return ("", false).
func (p *presenceRegistry) remove(connID string) (string, bool) {
	userID, ok := p.byConn[connID]
	if !ok {
		return "", false
	}
	delete(p.byConn, connID)

	conns := p.byUser[userID]
	delete(conns, connID)
	if len(conns) > 0 {
		return userID, false
	}

	delete(p.byUser, userID)
	return userID, true
}

func (p *presenceRegistry) isOnline(userID string) bool {
	_, ok := p.byUser[userID]
	return ok
}

func (p *presenceRegistry) connections(userID string) []string {
	conns := p.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *presenceRegistry) users() []string {
	out := make([]string, 0, len(p.byUser))
	for id := range p.byUser {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
