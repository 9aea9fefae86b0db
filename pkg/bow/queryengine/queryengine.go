// Package queryengine implements the phrase/boolean query engine
// parses a query string into atoms, matches single terms
// and quoted phrases by streaming over raw position-vector cursors,
// and combines required/preferred/forbidden atoms into a ranked
// document list.
package queryengine

import (
	"math"
	"sort"
	"strings"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/bowerr"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/posting"
)

// MaxAtoms is the hard cap on atoms per query. Truncation is surfaced
// to the caller via the parse result rather than silently dropped.
const MaxAtoms = 50

// AtomKind is an atom's role in the boolean combination.
type AtomKind int

const (
	Preferred AtomKind = iota
	Required
	Forbidden
)

// Atom is one parsed query unit: a single term or an ordered phrase,
// optionally field-scoped.
type Atom struct {
	Kind     AtomKind
	Terms    []string // raw term text, in phrase order (len 1 for a single word)
	IsPhrase bool
	Field    string // empty when unscoped
}

// ParseQuery tokenizes a query string into atoms. `+term` is
// Required, `-term` is Forbidden, unprefixed is Preferred. `"a b
// c"` is a phrase. `field:atom` (prefix or phrase) scopes every term
// in the atom to that field. Truncated reports whether the query
// exceeded MaxAtoms; atoms beyond the cap are dropped, not silently
// ignored.
func ParseQuery(query string) (atoms []Atom, truncated bool, err error) {
	i := 0
	runes := []rune(query)
	for i < len(runes) {
		for i < len(runes) && runes[i] == ' ' {
			i++
		}
		if i >= len(runes) {
			break
		}
		kind := Preferred
		switch runes[i] {
		case '+':
			kind = Required
			i++
		case '-':
			kind = Forbidden
			i++
		}
		if i >= len(runes) {
			return nil, false, bowerr.ErrEmptyQuery
		}

		start := i
		var raw string
		if runes[i] == '"' {
			i++
			phraseStart := i
			for i < len(runes) && runes[i] != '"' {
				i++
			}
			raw = string(runes[phraseStart:i])
			if i < len(runes) {
				i++ // skip closing quote
			}
		} else {
			for i < len(runes) && runes[i] != ' ' {
				i++
			}
			raw = string(runes[start:i])
		}

		field := ""
		if idx := strings.Index(raw, ":"); idx >= 0 && !strings.Contains(raw, " ") {
			field = raw[:idx]
			raw = raw[idx+1:]
		}

		words := strings.Fields(raw)
		if len(words) == 0 {
			continue
		}
		if len(atoms) >= MaxAtoms {
			truncated = true
			continue
		}
		atoms = append(atoms, Atom{
			Kind:     kind,
			Terms:    words,
			IsPhrase: len(words) > 1,
			Field:    field,
		})
	}
	if len(atoms) == 0 {
		return nil, truncated, bowerr.ErrEmptyQuery
	}
	return atoms, truncated, nil
}

// fieldScope appends the field suffix the way the barrel's indexer is
// expected to when lexing field-scoped content: a field suffix appends
// "xxx<field>" to every token in the atom, which is how field-scoping
// is implemented on top of a flat vocabulary.
func fieldScope(term, field string) string {
	if field == "" {
		return term
	}
	return term + "xxx" + field
}

// resolveTerms looks up every word of an atom in d, scoped by field.
// ok is false if any word is absent (a phrase with a missing word can
// never match; a missing single term simply matches nothing).
func resolveTerms(d *dict.Dict, atom Atom) (ids []dict.ID, ok bool) {
	ids = make([]dict.ID, len(atom.Terms))
	for i, term := range atom.Terms {
		id, found := d.Lookup(fieldScope(term, atom.Field))
		if !found {
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

// Hit is one matching document and its accumulated score.
type Hit struct {
	Doc   int64
	Score float64
}

func lessPair(a, b posting.Pair) bool {
	if a.Doc != b.Doc {
		return a.Doc < b.Doc
	}
	return a.Position < b.Position
}

func equalPair(a, b posting.Pair) bool {
	return a.Doc == b.Doc && a.Position == b.Position
}

// PVOpener hands back a fresh, rewound read cursor for term's raw
// position list, or ok=false if the term has no postings.
type PVOpener func(term dict.ID) (pv *posting.PV, store posting.Store, ok bool, err error)

// MatchPhrase streams the phrase's per-term position-vector cursors in
// lockstep using a streaming-max algorithm: a shared (maxDi, maxPi)
// candidate phrase start advances whenever any cursor overtakes it, and
// a hit fires once every cursor i sits at (maxDi, maxPi+i). Each
// matching document is reported once, in ascending order.
func MatchPhrase(termIDs []dict.ID, open PVOpener) ([]int64, error) {
	n := len(termIDs)
	if n == 0 {
		return nil, nil
	}
	pvs := make([]*posting.PV, n)
	stores := make([]posting.Store, n)
	cur := make([]posting.Pair, n)
	ok := make([]bool, n)

	for i, term := range termIDs {
		pv, store, found, err := open(term)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, nil
		}
		if err := pv.Rewind(store); err != nil {
			return nil, err
		}
		pvs[i], stores[i] = pv, store
		cur[i], ok[i], err = pv.Next(store)
		if err != nil {
			return nil, err
		}
		if !ok[i] {
			return nil, nil
		}
	}

	var hits []int64
	maxDi, maxPi := cur[0].Doc, cur[0].Position

	for {
		allMatch := true
		for i := 0; i < n; i++ {
			target := posting.Pair{Doc: maxDi, Position: maxPi + int64(i)}
			for ok[i] && lessPair(cur[i], target) {
				var err error
				cur[i], ok[i], err = pvs[i].Next(stores[i])
				if err != nil {
					return nil, err
				}
			}
			if !ok[i] {
				return hits, nil
			}
			if !equalPair(cur[i], target) {
				allMatch = false
				candidateDi, candidatePi := cur[i].Doc, cur[i].Position-int64(i)
				if candidateDi > maxDi || (candidateDi == maxDi && candidatePi > maxPi) {
					maxDi, maxPi = candidateDi, candidatePi
				}
			}
		}
		if allMatch {
			if len(hits) == 0 || hits[len(hits)-1] != maxDi {
				hits = append(hits, maxDi)
			}
			allOK := true
			for i := 0; i < n; i++ {
				var err error
				cur[i], ok[i], err = pvs[i].Next(stores[i])
				if err != nil {
					return nil, err
				}
				if !ok[i] {
					allOK = false
				}
			}
			if !allOK {
				return hits, nil
			}
			maxDi, maxPi = cur[0].Doc, cur[0].Position
		}
	}
}

// atomDocs computes the (doc, weight) list for a single (non-phrase)
// atom using aggregate WI2DVF counts directly, since a single term's
// match doesn't need positional data.
func atomDocs(doc *barrel.Barrel, termIDs []dict.ID) (map[int64]float64, error) {
	out := make(map[int64]float64)
	vec, ok, err := doc.Index.Vector(termIDs[0])
	if err != nil || !ok {
		return out, err
	}
	for _, e := range vec {
		out[e.Doc] += float64(e.Count)
	}
	return out, nil
}

// Mode selects raw match-count scoring or log-rescaled scoring.
type Mode int

const (
	Raw Mode = iota
	Log
)

// Execute resolves atoms against d, matches single terms via WI2DVF
// and phrases via phraseOpen's raw position cursors, sweeps the
// combined required/preferred/forbidden streams by document id, and
// returns a descending score-ranked hit list. Documents with
// WordCount < 0 (the barrel's soft-delete marker) are filtered out.
func Execute(doc *barrel.Barrel, d *dict.Dict, atoms []Atom, phraseOpen PVOpener, mode Mode) ([]Hit, error) {
	type atomMatch struct {
		kind AtomKind
		docs map[int64]float64
	}
	var matches []atomMatch

	for _, atom := range atoms {
		termIDs, ok := resolveTerms(d, atom)
		if !ok {
			if atom.Kind == Required {
				// A required atom that can never match empties the
				// whole result set.
				return nil, nil
			}
			continue
		}
		var docs map[int64]float64
		var err error
		if atom.IsPhrase {
			hits, perr := MatchPhrase(termIDs, phraseOpen)
			if perr != nil {
				return nil, perr
			}
			docs = make(map[int64]float64, len(hits))
			for _, h := range hits {
				docs[h]++
			}
		} else {
			docs, err = atomDocs(doc, termIDs)
			if err != nil {
				return nil, err
			}
		}
		matches = append(matches, atomMatch{kind: atom.Kind, docs: docs})
	}

	// Determine the candidate document set: intersection of all
	// Required atoms (or, if none, union of Preferred atoms).
	var candidates map[int64]bool
	hasRequired := false
	for _, m := range matches {
		if m.kind != Required {
			continue
		}
		hasRequired = true
		if candidates == nil {
			candidates = make(map[int64]bool, len(m.docs))
			for doc := range m.docs {
				candidates[doc] = true
			}
			continue
		}
		for doc := range candidates {
			if _, ok := m.docs[doc]; !ok {
				delete(candidates, doc)
			}
		}
	}
	if !hasRequired {
		candidates = make(map[int64]bool)
		for _, m := range matches {
			if m.kind == Forbidden {
				continue
			}
			for doc := range m.docs {
				candidates[doc] = true
			}
		}
	}

	forbidden := make(map[int64]bool)
	for _, m := range matches {
		if m.kind != Forbidden {
			continue
		}
		for doc := range m.docs {
			forbidden[doc] = true
		}
	}
	for doc := range forbidden {
		delete(candidates, doc)
	}

	score := make(map[int64]float64, len(candidates))
	docFreq := make(map[int64]int, len(candidates))
	for _, m := range matches {
		if m.kind == Forbidden {
			continue
		}
		for docID, weight := range m.docs {
			if !candidates[docID] {
				continue
			}
			score[docID] += weight
			docFreq[docID]++
		}
	}

	out := make([]Hit, 0, len(candidates))
	for docID := range candidates {
		if int(docID) < len(doc.Docs) && doc.Docs[docID].WordCount < 0 {
			continue // soft-deleted document
		}
		s := score[docID]
		if mode == Log {
			s = logRescale(s, docFreq[docID])
		}
		out = append(out, Hit{Doc: docID, Score: s})
	}
	sortHits(out)
	return out, nil
}

func logRescale(count float64, docFrequency int) float64 {
	return math.Log(1+count) / math.Log(5+float64(docFrequency))
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
