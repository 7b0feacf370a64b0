package core

import "sort"

// PresenceUser is one roster line. Connection ids never leave the core.
type PresenceUser struct {
	UserID string
	Name   string
	Color  string
}

type presenceEntry struct {
	name   string
	color  string
	connID string
}

// presence keeps one entry per (board, identity).
type presence struct {
	boards map[string]map[string]presenceEntry
}

func newPresence() *presence {
	return &presence{boards: make(map[string]map[string]presenceEntry)}
}

// join adds or replaces the identity's entry; the last join owns it.
func (p *presence) join(board, identityID, name, color, connID string) {
	roster, ok := p.boards[board]
	if !ok {
		roster = make(map[string]presenceEntry)
		p.boards[board] = roster
	}
	roster[identityID] = presenceEntry{name: name, color: color, connID: connID}
}

// leave removes the entry owned by connID. When successor is non-empty the
// entry is handed to that connection instead. Entries owned by another
// connection are left alone. Reports whether the roster changed.
func (p *presence) leave(board, identityID, connID, successor string) bool {
	roster, ok := p.boards[board]
	if !ok {
		return false
	}
	entry, ok := roster[identityID]
	if !ok || entry.connID != connID {
		return false
	}
	if successor != "" {
		entry.connID = successor
		roster[identityID] = entry
		return false
	}
	delete(roster, identityID)
	if len(roster) == 0 {
		delete(p.boards, board)
	}
	return true
}

// snapshot returns the roster sorted by name, then identity id.
func (p *presence) snapshot(board string) []PresenceUser {
	roster := p.boards[board]
	out := make([]PresenceUser, 0, len(roster))
	for id, entry := range roster {
		out = append(out, PresenceUser{UserID: id, Name: entry.name, Color: entry.color})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// owner returns the connection holding the identity's entry.
func (p *presence) owner(board, identityID string) (string, bool) {
	entry, ok := p.boards[board][identityID]
	return entry.connID, ok
}
