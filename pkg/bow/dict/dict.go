// Package dict implements the term dictionary: a
// bijection between term strings and dense integer ids in [0, V), with a
// per-term occurrence counter and support for rebuilding the dictionary
// with a smaller, pruned vocabulary.
//
// The hash table is open-addressed with a hand-rolled probe sequence
// (rather than Go's built-in map) because the probe sequence itself is
// part of the on-disk contract: rebuilding an index from an existing
// dictionary file must reproduce the same collision order the original
// build used, so the 131-hash and its probing discipline are preserved
// verbatim rather than replaced with map[string]ID.
package dict

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/cognicore/bow/pkg/bow/bowerr"
)

// ID is a dense vocabulary index in [0, V).
type ID int32

// UnknownID is the sentinel id reserved for the unknown-word bucket when
// a Dict is constructed with ReserveUnknown.
const UnknownID ID = 0

// AbsentID is returned by Lookup when a term is not present and no
// unknown-word bucket is reserved.
const AbsentID ID = -1

const initialTargetSlots = 1024
const growthDoublingCeiling = 64 * 1024

type slot struct {
	used bool
	term string
	id   ID
}

// Dict is a term ↔ id bijection with occurrence counts.
type Dict struct {
	slots          []slot
	target         int // growth target slot count, independent of the actual prime capacity
	terms          []string // id -> term
	occurrence     []int64  // id -> occurrence count
	frozen         bool
	reserveUnknown bool
}

// New creates an empty dictionary. When reserveUnknown is true, id 0 is
// reserved for an unknown-word bucket and the first real term is
// assigned id 1.
func New(reserveUnknown bool) *Dict {
	d := &Dict{
		target:         initialTargetSlots,
		reserveUnknown: reserveUnknown,
	}
	d.slots = make([]slot, nextPrime(2*1+1))
	if reserveUnknown {
		d.terms = append(d.terms, "")
		d.occurrence = append(d.occurrence, 0)
	}
	return d
}

// Size returns V, the number of assigned ids (including the reserved
// unknown bucket, if any).
func (d *Dict) Size() int { return len(d.terms) }

// Freeze disables admission of new terms; Intern on an unseen term then
// returns AbsentID (or UnknownID, if reserved) instead of allocating one.
func (d *Dict) Freeze() { d.frozen = true }

// Frozen reports whether new-term admission is disabled.
func (d *Dict) Frozen() bool { return d.frozen }

// hash131 computes h ← 131·h + byte over the term's bytes.
func hash131(s string) uint64 {
	var h uint64
	for i := 0; i < len(s); i++ {
		h = 131*h + uint64(s[i])
	}
	return h
}

// probe returns the slot index sequence for a hash against a table of
// the given capacity: start at h mod cap, then advance by
// 1 + (h mod (cap-1)) each step. Both insertion and lookup call this so
// collision sequences are reproduced identically.
func (d *Dict) probe(h uint64, visit func(idx int) bool) {
	capacity := uint64(len(d.slots))
	if capacity == 0 {
		return
	}
	idx := h % capacity
	step := uint64(1)
	if capacity > 1 {
		step = 1 + h%(capacity-1)
	}
	for i := uint64(0); i < capacity; i++ {
		if !visit(int(idx)) {
			return
		}
		idx = (idx + step) % capacity
	}
}

// Lookup returns the id for term, or (AbsentID, false) if absent (or
// (UnknownID, false) if an unknown-word bucket is reserved).
func (d *Dict) Lookup(term string) (ID, bool) {
	h := hash131(term)
	found := AbsentID
	ok := false
	d.probe(h, func(idx int) bool {
		s := d.slots[idx]
		if !s.used {
			return false
		}
		if s.term == term {
			found = s.id
			ok = true
			return false
		}
		return true
	})
	if !ok && d.reserveUnknown {
		return UnknownID, false
	}
	return found, ok
}

// Intern returns the id for term, allocating a new one if absent and the
// dictionary is not frozen. If frozen and term is unseen, it returns
// UnknownID when an unknown bucket is reserved, else AbsentID.
func (d *Dict) Intern(term string) ID {
	if id, ok := d.Lookup(term); ok {
		return id
	}
	if d.frozen {
		if d.reserveUnknown {
			return UnknownID
		}
		return AbsentID
	}

	id := ID(len(d.terms))
	d.terms = append(d.terms, term)
	d.occurrence = append(d.occurrence, 0)
	d.maybeGrow()

	h := hash131(term)
	inserted := false
	d.probe(h, func(idx int) bool {
		if !d.slots[idx].used {
			d.slots[idx] = slot{used: true, term: term, id: id}
			inserted = true
			return false
		}
		return true
	})
	if !inserted {
		// Table was somehow full; this should not happen given maybeGrow,
		// but fall back to a hard rehash to stay correct.
		d.rehash(d.target * 2)
		d.probe(h, func(idx int) bool {
			if !d.slots[idx].used {
				d.slots[idx] = slot{used: true, term: term, id: id}
				return false
			}
			return true
		})
	}
	return id
}

// Name returns the term for id, or ("", false) if id is out of range.
func (d *Dict) Name(id ID) (string, bool) {
	if id < 0 || int(id) >= len(d.terms) {
		return "", false
	}
	return d.terms[id], true
}

// RecordOccurrence increments id's corpus occurrence counter. Looking a
// term up many times does not itself inflate its count; callers must
// call this explicitly once per observed occurrence.
func (d *Dict) RecordOccurrence(id ID) {
	if id < 0 || int(id) >= len(d.occurrence) {
		return
	}
	d.occurrence[id]++
}

// Occurrence returns id's recorded occurrence count.
func (d *Dict) Occurrence(id ID) int64 {
	if id < 0 || int(id) >= len(d.occurrence) {
		return 0
	}
	return d.occurrence[id]
}

// maybeGrow resizes the hash table so its prime capacity stays strictly
// greater than 2V, growing the target slot count by doubling below 64KiB
// and by fixed 64KiB increments above it.
func (d *Dict) maybeGrow() {
	v := len(d.terms)
	for d.target <= 2*v {
		if d.target < growthDoublingCeiling {
			d.target *= 2
		} else {
			d.target += growthDoublingCeiling
		}
	}
	if nextPrime(2*v+1) > len(d.slots) || d.target > len(d.slots) {
		d.rehash(d.target)
	}
}

func (d *Dict) rehash(target int) {
	newCap := nextPrime(target)
	old := d.slots
	d.slots = make([]slot, newCap)
	for _, s := range old {
		if !s.used {
			continue
		}
		h := hash131(s.term)
		d.probe(h, func(idx int) bool {
			if !d.slots[idx].used {
				d.slots[idx] = s
				return false
			}
			return true
		})
	}
}

// nextPrime returns the smallest prime strictly greater than n.
func nextPrime(n int) int {
	if n < 2 {
		n = 2
	}
	candidate := n + 1
	if candidate%2 == 0 {
		candidate++
	}
	for !isPrime(candidate) {
		candidate += 2
	}
	return candidate
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for i := 3; i*i <= n; i += 2 {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// PruneBelow returns a new dictionary containing only terms whose
// occurrence count is >= minCount, with freshly assigned contiguous ids
// in the original relative order, plus the old→new id mapping. Callers
// must rebuild any downstream WI2DVF/PV state against the new ids.
func (d *Dict) PruneBelow(minCount int64) (*Dict, map[ID]ID) {
	nd := New(d.reserveUnknown)
	mapping := make(map[ID]ID, len(d.terms))
	start := 0
	if d.reserveUnknown {
		start = 1
		mapping[UnknownID] = UnknownID
	}
	for i := start; i < len(d.terms); i++ {
		if d.occurrence[i] < minCount {
			continue
		}
		newID := nd.Intern(d.terms[i])
		nd.occurrence[newID] = d.occurrence[i]
		mapping[ID(i)] = newID
	}
	return nd, mapping
}

// KeepTopByScore returns a new dictionary containing only the ids with
// the N highest scores (e.g. information gain from the feature package),
// re-assigned contiguous ids in descending-score order, plus the old→new
// mapping. scores must be indexed by the current dictionary's ids.
func (d *Dict) KeepTopByScore(n int, scores []float64) (*Dict, map[ID]ID) {
	type scored struct {
		id    ID
		score float64
	}
	start := 0
	if d.reserveUnknown {
		start = 1
	}
	ranked := make([]scored, 0, len(d.terms)-start)
	for i := start; i < len(d.terms); i++ {
		s := 0.0
		if i < len(scores) {
			s = scores[i]
		}
		ranked = append(ranked, scored{id: ID(i), score: s})
	}
	// simple selection sort over a bounded top-N keeps this deterministic
	// and avoids pulling in sort.Slice's instability concerns for ties.
	for i := 0; i < len(ranked) && i < n; i++ {
		best := i
		for j := i + 1; j < len(ranked); j++ {
			if ranked[j].score > ranked[best].score {
				best = j
			}
		}
		ranked[i], ranked[best] = ranked[best], ranked[i]
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	nd := New(d.reserveUnknown)
	mapping := make(map[ID]ID, n)
	if d.reserveUnknown {
		mapping[UnknownID] = UnknownID
	}
	for i := 0; i < n; i++ {
		old := ranked[i].id
		newID := nd.Intern(d.terms[old])
		nd.occurrence[newID] = d.occurrence[old]
		mapping[old] = newID
	}
	return nd, mapping
}

const magic = "bow-dict-v1\n"

// WriteTo serializes the dictionary: a magic header, V, V
// newline-separated terms, then V occurrence counts as 32-bit
// big-endian integers.
func (d *Dict) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	nn, err := bw.WriteString(magic)
	n += int64(nn)
	if err != nil {
		return n, err
	}
	nn, err = fmt.Fprintf(bw, "%d\n", len(d.terms))
	n += int64(nn)
	if err != nil {
		return n, err
	}
	for _, t := range d.terms {
		nn, err = bw.WriteString(t)
		n += int64(nn)
		if err != nil {
			return n, err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return n, err
		}
		n++
	}
	for _, c := range d.occurrence {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(c))
		m, err := bw.Write(buf[:])
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// ReadFrom reconstructs a dictionary written by WriteTo. The probe
// sequence used to re-insert terms is identical to the original build's,
// so ids assigned here match a prior session only if terms are read back
// in the same order they were written (which WriteTo guarantees).
func ReadFrom(r io.Reader, reserveUnknown bool) (*Dict, error) {
	br := bufio.NewReader(r)
	hdr := make([]byte, len(magic))
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, fmt.Errorf("dict: reading magic: %w", err)
	}
	if string(hdr) != magic {
		return nil, fmt.Errorf("dict: %w", bowerr.ErrBadMagic)
	}
	var v int
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("dict: reading count: %w", err)
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "%d", &v); err != nil {
		return nil, fmt.Errorf("dict: parsing count: %w", err)
	}

	d := New(reserveUnknown)
	terms := make([]string, 0, v)
	for i := 0; i < v; i++ {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("dict: reading term %d: %w", i, err)
		}
		terms = append(terms, strings.TrimRight(line, "\n"))
	}

	start := 0
	if reserveUnknown {
		start = 1
		if len(terms) > 0 && terms[0] == "" {
			terms = terms[0:]
		}
	}
	for i := start; i < len(terms); i++ {
		d.Intern(terms[i])
	}

	for i := 0; i < v && i < len(d.occurrence); i++ {
		var buf [4]byte
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, fmt.Errorf("dict: reading occurrence %d: %w", i, err)
		}
		d.occurrence[i] = int64(binary.BigEndian.Uint32(buf[:]))
	}
	return d, nil
}
