package detect

// FileSummary is the count-only fold of a file's hits. The zero value is an
// empty summary. Folding is commutative, so hits may arrive in any order.
type FileSummary struct {
	Total         int                `json:"total"`
	Controlled    int                `json:"controlled"`
	NonControlled int                `json:"noncontrolled"`
	TypeCounts    map[EntityType]int `json:"type_counts"`
}

// Add folds one hit into s.
func (s *FileSummary) Add(h EntityHit) {
	s.Total++
	if h.Label == Controlled {
		s.Controlled++
	} else {
		s.NonControlled++
	}
	if s.TypeCounts == nil {
		s.TypeCounts = make(map[EntityType]int)
	}
	s.TypeCounts[h.Type]++
}

// Merge folds o into s.
func (s *FileSummary) Merge(o FileSummary) {
	s.Total += o.Total
	s.Controlled += o.Controlled
	s.NonControlled += o.NonControlled
	if len(o.TypeCounts) > 0 && s.TypeCounts == nil {
		s.TypeCounts = make(map[EntityType]int, len(o.TypeCounts))
	}
	for t, n := range o.TypeCounts {
		s.TypeCounts[t] += n
	}
}

// Clone returns a deep copy of s.
func (s FileSummary) Clone() FileSummary {
	c := s
	c.TypeCounts = nil
	if s.TypeCounts != nil {
		c.TypeCounts = make(map[EntityType]int, len(s.TypeCounts))
		for t, n := range s.TypeCounts {
			c.TypeCounts[t] = n
		}
	}
	return c
}
