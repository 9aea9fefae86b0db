// Package compact implements maintenance passes over an on-disk data
// directory: merging a position-vector's on-disk segment chain back
// into a single segment, and reclaiming storage held by WI2DVF entries
// that have been hidden (by feature selection) past a retention point.
// This bounds otherwise-unbounded segment-chain and hidden-entry
// growth; it is distinct from (and does not attempt) crash recovery of
// a dangling mid-write segment. Structured as a Clean(ctx) (Result,
// error) entry point that replays and rewrites, the shape any
// replay-based storage maintenance pass takes.
package compact

import (
	"context"

	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/invindex"
	"github.com/cognicore/bow/pkg/bow/posting"
)

// Result summarizes one compaction pass.
type Result struct {
	PVsMerged      int
	SegmentsBefore int
	TermsForgotten int
	Errors         int
}

// MergePV drains every (doc, position) pair from pv's full segment
// chain and rewrites it as a single fresh segment in store, returning
// the replacement PV. The original pv is left with its read cursor
// exhausted; callers must swap their reference to the returned PV (and
// persist its new SeekStart) to actually observe the merge. A PV with
// at most one on-disk segment already is still rewritten (callers
// wanting a cheap no-op check should inspect segment count themselves
// before calling).
func MergePV(pv *posting.PV, store posting.Store) (*posting.PV, error) {
	if err := pv.Rewind(store); err != nil {
		return nil, err
	}
	fresh := posting.New()
	for {
		pair, ok, err := pv.Next(store)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := fresh.Add(pair.Doc, pair.Position, nil); err != nil {
			return nil, err
		}
	}
	if err := fresh.Flush(store, nil); err != nil {
		return nil, err
	}
	return fresh, nil
}

// ForgetHidden permanently drops every currently-hidden term in idx,
// via invindex.Index.Forget, so the next WriteTo no longer serializes
// their payloads. keep, if non-nil, is consulted per term and lets the
// caller veto reclaiming a given term (e.g. to retain recently-hidden
// terms for a grace period); a nil keep reclaims every hidden term.
func ForgetHidden(idx *invindex.Index, keep func(dict.ID) bool) (int, error) {
	forgotten := 0
	for _, term := range idx.PresentTerms() {
		if !idx.IsHidden(term) {
			continue
		}
		if keep != nil && keep(term) {
			continue
		}
		if err := idx.Forget(term); err != nil {
			return forgotten, err
		}
		forgotten++
	}
	return forgotten, nil
}

// Engine runs a compaction pass over a set of PVs sharing one store
// and, optionally, an inverted index to reclaim hidden terms from.
// PVStore is the shared destination for merged segments; Index and
// Keep together decide, per term, whether to forget it; PVs is the
// source set of per-term position vectors to compact.
type Engine struct {
	PVStore posting.Store
	Index   *invindex.Index
	Keep    func(dict.ID) bool

	// PVs lists the position-vectors to merge, paired with a callback
	// that receives the replacement PV so the caller can persist its
	// new SeekStart wherever it stores term-to-PV associations.
	PVs []PVUnit
}

// PVUnit is one position-vector due for segment-chain merging.
type PVUnit struct {
	PV      *posting.PV
	Replace func(*posting.PV)
}

// Clean runs the configured merges and the hidden-term reclamation
// pass, returning a summary. It stops at the first error from either
// phase; partial progress (PVs already merged, terms already
// forgotten) is retained in the returned Result.
func (e *Engine) Clean(ctx context.Context) (Result, error) {
	var res Result
	for _, unit := range e.PVs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		merged, err := MergePV(unit.PV, e.PVStore)
		if err != nil {
			res.Errors++
			return res, err
		}
		if unit.Replace != nil {
			unit.Replace(merged)
		}
		res.PVsMerged++
	}

	if e.Index != nil {
		forgotten, err := ForgetHidden(e.Index, e.Keep)
		res.TermsForgotten = forgotten
		if err != nil {
			res.Errors++
			return res, err
		}
	}
	return res, nil
}
