package posting

import (
	"sort"

	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/session"
)

// Set maintains one PV per term during an indexing run, sharing a
// single on-disk store. When an Add pushes the session's in-memory PV
// total over its watermark, the PV that triggered the crossing is
// flushed; which other PVs to also flush is left to the caller.
type Set struct {
	pvs map[dict.ID]*PV
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{pvs: make(map[dict.ID]*PV)}
}

// Get returns term's PV, if one exists.
func (s *Set) Get(term dict.ID) (*PV, bool) {
	pv, ok := s.pvs[term]
	return pv, ok
}

// Put installs pv as term's position-vector, replacing any existing
// one. Used when loading a saved table and when a compaction pass
// hands back a merged replacement.
func (s *Set) Put(term dict.ID, pv *PV) {
	s.pvs[term] = pv
}

// Len reports how many terms have a PV.
func (s *Set) Len() int { return len(s.pvs) }

// Terms returns every term with a PV, in ascending id order.
func (s *Set) Terms() []dict.ID {
	out := make([]dict.ID, 0, len(s.pvs))
	for term := range s.pvs {
		out = append(out, term)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Add appends (di, pi) to term's PV, creating it on first use. If the
// append crosses the session watermark and store is non-nil, the
// triggering PV is flushed immediately.
func (s *Set) Add(term dict.ID, di, pi int64, store Store, sess *session.Session) error {
	pv, ok := s.pvs[term]
	if !ok {
		pv = New()
		s.pvs[term] = pv
	}
	if err := pv.Add(di, pi, sess); err != nil {
		return err
	}
	if sess != nil && store != nil && sess.PVUsed > sess.PVWatermark {
		return pv.Flush(store, sess)
	}
	return nil
}

// FlushAll flushes every PV's remaining write buffer to store, in term
// order.
func (s *Set) FlushAll(store Store, sess *session.Session) error {
	for _, term := range s.Terms() {
		if err := s.pvs[term].Flush(store, sess); err != nil {
			return err
		}
	}
	return nil
}
