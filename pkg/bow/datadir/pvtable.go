package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/posting"
	"github.com/cognicore/bow/pkg/bow/session"
)

// pvTableFile maps each term id to the file offset of its first PV
// segment in `pv`. The WI2DVF's own offset table covers only the
// aggregated document-vectors; phrase matching needs the raw position
// streams, and this sidecar is what lets a reopened directory seed a
// read cursor per term.
const pvTableFile = "pvidx"

// SavePVTable flushes every buffered PV in set against store, then
// writes the term-to-segment-offset table to path's pvidx file. Terms
// whose PV never received a posting are omitted. A nil set writes an
// empty table.
func SavePVTable(path string, set *posting.Set, store posting.Store, sess *session.Session) error {
	offsets := map[dict.ID]int64{}
	if set != nil {
		if err := set.FlushAll(store, sess); err != nil {
			return fmt.Errorf("datadir: flushing PVs: %w", err)
		}
		for _, term := range set.Terms() {
			pv, _ := set.Get(term)
			if seek, flushed := pv.SeekStart(); flushed {
				offsets[term] = seek
			}
		}
	}
	return SavePVOffsets(path, offsets)
}

// SavePVOffsets writes an explicit term-to-offset table to path's
// pvidx file. Used directly after a compaction pass has already
// re-flushed the PVs and collected their new segment offsets.
func SavePVOffsets(path string, offsets map[dict.ID]int64) error {
	f, err := os.Create(filepath.Join(path, pvTableFile))
	if err != nil {
		return err
	}
	defer f.Close()

	terms := make([]dict.ID, 0, len(offsets))
	for term := range offsets {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i] < terms[j] })

	if err := writeInt32(f, int32(len(terms))); err != nil {
		return err
	}
	for _, term := range terms {
		if err := writeInt32(f, int32(term)); err != nil {
			return err
		}
		if err := writeInt64(f, offsets[term]); err != nil {
			return err
		}
	}
	return nil
}

// loadPVTable reads the pvidx file if present; a directory saved
// without one (no postings, or an index built before phrase support
// was wired in) yields a nil table and no error.
func loadPVTable(path string) (map[dict.ID]int64, error) {
	f, err := os.Open(filepath.Join(path, pvTableFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	n, err := readInt32(f)
	if err != nil {
		return nil, err
	}
	offsets := make(map[dict.ID]int64, n)
	for i := int32(0); i < n; i++ {
		term, err := readInt32(f)
		if err != nil {
			return nil, err
		}
		seek, err := readInt64(f)
		if err != nil {
			return nil, err
		}
		offsets[dict.ID(term)] = seek
	}
	return offsets, nil
}

// OpenCursor hands back a fresh read cursor over term's raw position
// stream, satisfying queryengine.PVOpener. Every call returns an
// independent PV, so a phrase that repeats a term gets separate
// cursors rather than two query positions fighting over one.
func (dir *Directory) OpenCursor(term dict.ID) (*posting.PV, posting.Store, bool, error) {
	seek, ok := dir.PVTable[term]
	if !ok {
		return nil, nil, false, nil
	}
	return posting.Open(seek), dir.PV, true, nil
}
