package core

// sessions maps identities to their live connections.
type sessions struct {
	byIdentity map[string]map[string]*Client
}

func newSessions() *sessions {
	return &sessions{byIdentity: make(map[string]map[string]*Client)}
}

func (s *sessions) register(identityID string, c *Client) {
	conns, ok := s.byIdentity[identityID]
	if !ok {
		conns = make(map[string]*Client)
		s.byIdentity[identityID] = conns
	}
	conns[c.ID] = c
}

// unregister drops the connection and the identity once it has none left.
func (s *sessions) unregister(identityID, connID string) {
	conns, ok := s.byIdentity[identityID]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(s.byIdentity, identityID)
	}
}

func (s *sessions) activeConnections(identityID string) []*Client {
	conns := s.byIdentity[identityID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (s *sessions) identities() int {
	return len(s.byIdentity)
}
