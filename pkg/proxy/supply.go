package proxy

import "strings"

// Supply is an ordered, duplicate-free queue of proxy identifiers consumed from
// the front. It is not safe for concurrent use; only the supervisor loop pops it.
type Supply struct {
	ids []string
}

// NewSupply builds a supply from ids, dropping blanks and later duplicates.
func NewSupply(ids []string) *Supply {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return &Supply{ids: out}
}

// Pop removes and returns the first proxy.
func (s *Supply) Pop() (string, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, true
}

func (s *Supply) Len() int {
	return len(s.ids)
}
