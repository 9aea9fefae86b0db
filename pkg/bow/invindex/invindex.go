// Package invindex implements the inverted index WI2DVF: a mapping
// from term id to a document-vector of (document-id, count, weight)
// entries, plus a hide/unhide mechanism used by feature selection to
// remove terms from scoring without discarding their postings.
//
// "Hidden" is carried as an explicit tri-state (NotPresent/Visible/
// Hidden) alongside the disk offset, rather than a sign-flipped seek
// offset — so a reader never has to reconstruct visibility from the
// sign of a raw integer.
package invindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cognicore/bow/pkg/bow/bowerr"
	"github.com/cognicore/bow/pkg/bow/dict"
)

// DVEntry is one (document, count, weight) posting inside a term's
// document-vector.
type DVEntry struct {
	Doc    int64
	Count  int64
	Weight float64
}

// DocVector is a term's document-vector: strictly increasing Doc.
type DocVector []DVEntry

type entryState uint8

const (
	notPresent entryState = iota
	visible
	hidden
)

type termEntry struct {
	state      entryState
	diskOffset int64 // valid when loaded lazily from disk
	resident   *DocVector
}

// ReaderAt is the capability a serialized index needs for lazy decode:
// sequential reads to parse the header, random access to decode one
// term's payload on demand.
type ReaderAt interface {
	io.Reader
	io.ReaderAt
}

// defaultCacheSize bounds the number of simultaneously-decoded
// document-vectors when backed by a lazily-read file, so repeated
// Entry() calls on a working set of terms stay cheap without holding
// the whole WI2DVF decoded in memory. At most one document-vector is
// ever decoded per term at a time; this cache is the resource bound
// above that floor.
const defaultCacheSize = 4096

// Index is the WI2DVF: one document-vector slot per dictionary id.
type Index struct {
	entries    []termEntry
	cache      *lru.Cache[dict.ID, *DocVector]
	reader     ReaderAt
	numVisible int
}

// New creates an empty, purely in-memory index sized for size term ids.
// size grows automatically as Add encounters higher ids.
func New(size int) *Index {
	c, _ := lru.New[dict.ID, *DocVector](defaultCacheSize)
	return &Index{
		entries: make([]termEntry, size),
		cache:   c,
	}
}

func (idx *Index) ensureSize(n int) {
	if n <= len(idx.entries) {
		return
	}
	grown := make([]termEntry, n)
	copy(grown, idx.entries)
	idx.entries = grown
}

// NumVisible is the number of terms with an un-hidden entry.
func (idx *Index) NumVisible() int { return idx.numVisible }

// PresentTerms returns every term id with a posting, visible or
// hidden, in ascending order. Used by consumers (e.g. class-barrel
// construction) that need to enumerate a document's or a class's full
// vocabulary rather than probe one term at a time.
func (idx *Index) PresentTerms() []dict.ID {
	var ids []dict.ID
	for i, e := range idx.entries {
		if e.state != notPresent {
			ids = append(ids, dict.ID(i))
		}
	}
	return ids
}

// Add appends or updates the posting for (term, doc): if doc equals the
// document-vector's last entry, count is added to that entry's count
// and weight replaces its weight; else a new entry is appended. doc must be >= the last entry's doc.
func (idx *Index) Add(term dict.ID, doc int64, count int64, weight float64) error {
	idx.ensureSize(int(term) + 1)
	e := &idx.entries[term]
	if e.resident == nil {
		dv := DocVector{}
		e.resident = &dv
	}
	dv := *e.resident
	if n := len(dv); n > 0 {
		last := &dv[n-1]
		if doc < last.Doc {
			return bowerr.ErrOutOfOrder
		}
		if doc == last.Doc {
			last.Count += count
			last.Weight = weight
			*e.resident = dv
			idx.markPresent(term)
			return nil
		}
	}
	dv = append(dv, DVEntry{Doc: doc, Count: count, Weight: weight})
	*e.resident = dv
	idx.markPresent(term)
	return nil
}

func (idx *Index) markPresent(term dict.ID) {
	e := &idx.entries[term]
	if e.state == notPresent {
		e.state = visible
		idx.numVisible++
	}
}

// Entry binary-searches term's document-vector for doc.
func (idx *Index) Entry(term dict.ID, doc int64) (DVEntry, bool, error) {
	dv, err := idx.vectorFor(term)
	if err != nil {
		return DVEntry{}, false, err
	}
	if dv == nil {
		return DVEntry{}, false, nil
	}
	v := *dv
	i := sort.Search(len(v), func(i int) bool { return v[i].Doc >= doc })
	if i < len(v) && v[i].Doc == doc {
		return v[i], true, nil
	}
	return DVEntry{}, false, nil
}

// Vector returns the full document-vector for term, decoding it from
// disk and caching it if this index was lazily loaded.
func (idx *Index) Vector(term dict.ID) (DocVector, bool, error) {
	dv, err := idx.vectorFor(term)
	if err != nil || dv == nil {
		return nil, false, err
	}
	return *dv, true, nil
}

func (idx *Index) vectorFor(term dict.ID) (*DocVector, error) {
	if int(term) < 0 || int(term) >= len(idx.entries) {
		return nil, nil
	}
	e := &idx.entries[term]
	if e.state == notPresent {
		return nil, nil
	}
	if e.resident != nil {
		return e.resident, nil
	}
	if v, ok := idx.cache.Get(term); ok {
		return v, nil
	}
	if idx.reader == nil {
		empty := DocVector{}
		return &empty, nil
	}
	dv, err := decodeDocVector(idx.reader, e.diskOffset)
	if err != nil {
		return nil, err
	}
	idx.cache.Add(term, dv)
	return dv, nil
}

// Hide marks term invisible to iteration and scoring without freeing
// its storage. Hiding a term with no postings is an invariant error.
func (idx *Index) Hide(term dict.ID) error {
	if int(term) < 0 || int(term) >= len(idx.entries) || idx.entries[term].state == notPresent {
		return bowerr.ErrNeverExisted
	}
	e := &idx.entries[term]
	if e.state == visible {
		e.state = hidden
		idx.numVisible--
	}
	return nil
}

// Unhide restores a previously hidden term.
func (idx *Index) Unhide(term dict.ID) error {
	if int(term) < 0 || int(term) >= len(idx.entries) || idx.entries[term].state == notPresent {
		return bowerr.ErrNeverExisted
	}
	e := &idx.entries[term]
	if e.state == hidden {
		e.state = visible
		idx.numVisible++
	}
	return nil
}

// UnhideAll restores every hidden term.
func (idx *Index) UnhideAll() {
	for i := range idx.entries {
		if idx.entries[i].state == hidden {
			idx.entries[i].state = visible
			idx.numVisible++
		}
	}
}

// IsHidden reports whether term is present but currently hidden.
func (idx *Index) IsHidden(term dict.ID) bool {
	if int(term) < 0 || int(term) >= len(idx.entries) {
		return false
	}
	return idx.entries[term].state == hidden
}

// IsPresent reports whether term has ever had a posting added.
func (idx *Index) IsPresent(term dict.ID) bool {
	if int(term) < 0 || int(term) >= len(idx.entries) {
		return false
	}
	return idx.entries[term].state != notPresent
}

// Forget permanently drops a hidden term's postings: its state becomes
// notPresent, its resident document-vector and disk offset are
// cleared, and the next WriteTo no longer serializes any payload for
// it. Unlike Hide, this cannot be undone by Unhide. Used by
// pkg/bow/compact to reclaim storage for terms hidden past a retention
// threshold, bounding the otherwise-unbounded WI2DVF growth from
// never-reclaimed hidden entries.
func (idx *Index) Forget(term dict.ID) error {
	if int(term) < 0 || int(term) >= len(idx.entries) {
		return bowerr.ErrNeverExisted
	}
	e := &idx.entries[term]
	if e.state != hidden {
		return bowerr.ErrNeverExisted
	}
	e.state = notPresent
	e.diskOffset = 0
	e.resident = nil
	idx.cache.Remove(term)
	return nil
}

// HideByDocCount hides every visible term whose document-vector length
// is <= k.
func (idx *Index) HideByDocCount(k int) error {
	for id := range idx.entries {
		if idx.entries[id].state != visible {
			continue
		}
		dv, err := idx.vectorFor(dict.ID(id))
		if err != nil {
			return err
		}
		if dv != nil && len(*dv) <= k {
			if err := idx.Hide(dict.ID(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// HideByOccurrence hides every visible term whose total occurrence
// count (sum of DVEntry.Count across its document-vector) is <= k.
func (idx *Index) HideByOccurrence(k int64) error {
	for id := range idx.entries {
		if idx.entries[id].state != visible {
			continue
		}
		dv, err := idx.vectorFor(dict.ID(id))
		if err != nil {
			return err
		}
		if dv == nil {
			continue
		}
		var total int64
		for _, e := range *dv {
			total += e.Count
		}
		if total <= k {
			if err := idx.Hide(dict.ID(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// HideWithPrefix hides every visible term whose name (looked up via d)
// carries the given prefix.
func (idx *Index) HideWithPrefix(d *dict.Dict, prefix string) error {
	return idx.hideByPrefixPredicate(d, func(name string) bool {
		return strings.HasPrefix(name, prefix)
	})
}

// HideWithoutPrefix hides every visible term whose name does not carry
// the given prefix.
func (idx *Index) HideWithoutPrefix(d *dict.Dict, prefix string) error {
	return idx.hideByPrefixPredicate(d, func(name string) bool {
		return !strings.HasPrefix(name, prefix)
	})
}

func (idx *Index) hideByPrefixPredicate(d *dict.Dict, match func(string) bool) error {
	for id := range idx.entries {
		if idx.entries[id].state != visible {
			continue
		}
		name, ok := d.Name(dict.ID(id))
		if !ok {
			continue
		}
		if match(name) {
			if err := idx.Hide(dict.ID(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- serialization ---

// WriteTo serializes: V (int32), then V (state byte, offset int64)
// table entries, then the concatenated per-term payloads in id order.
// Offsets are computed up front so the table can be written before any
// payload.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	v := len(idx.entries)
	payloads := make([][]byte, v)
	states := make([]entryState, v)
	offsets := make([]int64, v)

	headerSize := int64(4 + v*(1+8))
	running := headerSize
	for id := range idx.entries {
		e := &idx.entries[id]
		states[id] = e.state
		if e.state == notPresent {
			continue
		}
		dv, err := idx.vectorFor(dict.ID(id))
		if err != nil {
			return 0, err
		}
		buf := encodeDocVector(*dv)
		payloads[id] = buf
		offsets[id] = running
		running += int64(len(buf))
	}

	var written int64
	if err := writeInt32(w, int32(v)); err != nil {
		return written, err
	}
	written += 4
	for id := 0; id < v; id++ {
		if _, err := w.Write([]byte{byte(states[id])}); err != nil {
			return written, err
		}
		written++
		if err := writeInt64(w, offsets[id]); err != nil {
			return written, err
		}
		written += 8
	}
	for id := 0; id < v; id++ {
		if states[id] == notPresent {
			continue
		}
		n, err := w.Write(payloads[id])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadFrom reconstructs an Index for lazy reading: the offset table is
// parsed eagerly, but each document-vector is decoded on the first
// Entry, Vector, HideByDocCount, HideByOccurrence or WriteTo call that
// needs it.
func ReadFrom(r ReaderAt) (*Index, error) {
	vRaw, err := readInt32(r)
	if err != nil {
		return nil, fmt.Errorf("invindex: reading term count: %w", err)
	}
	v := int(vRaw)
	if v < 0 {
		return nil, bowerr.ErrBadMagic
	}
	c, _ := lru.New[dict.ID, *DocVector](defaultCacheSize)
	idx := &Index{entries: make([]termEntry, v), cache: c, reader: r}
	for id := 0; id < v; id++ {
		var stateByte [1]byte
		if _, err := io.ReadFull(r, stateByte[:]); err != nil {
			return nil, fmt.Errorf("invindex: reading state %d: %w", id, err)
		}
		off, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("invindex: reading offset %d: %w", id, err)
		}
		st := entryState(stateByte[0])
		idx.entries[id] = termEntry{state: st, diskOffset: off}
		if st == visible {
			idx.numVisible++
		}
	}
	return idx, nil
}

func encodeDocVector(dv DocVector) []byte {
	buf := make([]byte, 0, 4+len(dv)*16)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(dv)))
	buf = append(buf, countBuf[:]...)
	lastDoc := int64(0)
	for _, e := range dv {
		buf = appendUvarint(buf, uint64(e.Doc-lastDoc))
		lastDoc = e.Doc
		buf = appendUvarint(buf, uint64(e.Count))
		var wbuf [8]byte
		binary.BigEndian.PutUint64(wbuf[:], math.Float64bits(e.Weight))
		buf = append(buf, wbuf[:]...)
	}
	return buf
}

func decodeDocVector(r io.ReaderAt, offset int64) (*DocVector, error) {
	sr := bufio.NewReader(io.NewSectionReader(r, offset, 1<<62))
	var countBuf [4]byte
	if _, err := io.ReadFull(sr, countBuf[:]); err != nil {
		return nil, fmt.Errorf("invindex: reading doc-vector length: %w", err)
	}
	n := int(binary.BigEndian.Uint32(countBuf[:]))
	dv := make(DocVector, n)
	lastDoc := int64(0)
	for i := 0; i < n; i++ {
		deltaDoc, err := readUvarint(sr)
		if err != nil {
			return nil, err
		}
		count, err := readUvarint(sr)
		if err != nil {
			return nil, err
		}
		var wbuf [8]byte
		if _, err := io.ReadFull(sr, wbuf[:]); err != nil {
			return nil, err
		}
		lastDoc += int64(deltaDoc)
		dv[i] = DVEntry{
			Doc:    lastDoc,
			Count:  int64(count),
			Weight: math.Float64frombits(binary.BigEndian.Uint64(wbuf[:])),
		}
	}
	return &dv, nil
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

func readUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
