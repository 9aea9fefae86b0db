// Package posting implements the position-vector codec: a per-term,
// compressed, append-only stream of (document-id, position-id) pairs,
// backed by an in-memory write buffer and a chain of on-disk segments.
//
// Each PV owns at most one unflushed write buffer plus zero or more
// flushed on-disk segments. A read cursor is independent of the write
// cursor; reading past the write cursor returns end of stream.
//
// The unnext peek and the end-of-stream signal are expressed as
// explicit Go constructs (a single-slot peek buffer and an
// (ok bool, err error) return) rather than sign-flipped offsets or
// in-band -1 pairs.
package posting

import (
	"encoding/binary"
	"io"

	"github.com/cognicore/bow/pkg/bow/bowerr"
	"github.com/cognicore/bow/pkg/bow/session"
)

// Pair is one (document-id, position-id) posting.
type Pair struct {
	Doc      int64
	Position int64
}

// Store is the shared on-disk PV file. All reads must seek before
// reading and all appends must seek to end; callers must not wrap it
// in a buffering reader/writer that could desynchronize the shared file
// offset.
type Store interface {
	io.ReadWriteSeeker
}

// nullTailer is the on-disk sentinel for "no next segment". 0 cannot
// collide with a real next-offset: segments are only ever appended, so
// a successor segment always starts past the very first segment's
// header at offset 0.
const nullTailer int64 = 0

// PV is one term's position-vector codec state: a write cursor (the
// unflushed in-memory buffer plus the last flushed segment's tailer)
// and an independent read cursor.
type PV struct {
	buf         []byte
	writeLastDi int64
	writeLastPi int64

	flushed        bool
	seekStart      int64 // offset of the first on-disk segment
	lastTailerSeek int64 // offset of the most recently written tailer

	readInited  bool
	readInDisk  bool // true while the cursor is walking on-disk segments
	readFilePos int64
	readRemain  int64
	bufReadPos  int

	readLastDi int64
	readLastPi int64

	peek      *Pair
	lastPair  Pair
	lastOK    bool
	canUnnext bool

	wordCount int64
}

// New creates an empty PV with no postings and no flushed segments.
func New() *PV {
	return &PV{
		writeLastDi: -1,
		writeLastPi: -1,
		readLastDi:  -1,
		readLastPi:  -1,
	}
}

// Open reconstructs a PV whose first on-disk segment begins at
// seekStart, for lazy loading of a previously-serialized index. The
// returned PV has no in-memory write buffer; further Add calls start a
// fresh buffer appended after the existing on-disk chain.
func Open(seekStart int64) *PV {
	pv := New()
	pv.flushed = true
	pv.seekStart = seekStart
	return pv
}

// WordCount is the number of postings ever added to this PV.
func (pv *PV) WordCount() int64 { return pv.wordCount }

// SeekStart returns the file offset of the first on-disk segment and
// whether this PV has been flushed at least once.
func (pv *PV) SeekStart() (int64, bool) { return pv.seekStart, pv.flushed }

// InMemoryBytes is the size of the unflushed write buffer, for watermark
// accounting.
func (pv *PV) InMemoryBytes() int { return len(pv.buf) }

// Add appends (di, pi) to the write buffer. Pairs must be added in
// non-decreasing (di, pi) order; when di advances, pi implicitly resets
// so the next Add for that di may start at any pi >= 0.
func (pv *PV) Add(di, pi int64, sess *session.Session) error {
	if di < pv.writeLastDi {
		return bowerr.ErrOutOfOrder
	}
	before := len(pv.buf)
	if di != pv.writeLastDi {
		pv.buf = appendVarint(pv.buf, uint64(di-pv.writeLastDi), true)
		pv.writeLastDi = di
		pv.writeLastPi = -1
	}
	if pi < pv.writeLastPi {
		return bowerr.ErrOutOfOrder
	}
	pv.buf = appendVarint(pv.buf, uint64(pi-pv.writeLastPi), false)
	pv.writeLastPi = pi
	pv.wordCount++
	if sess != nil {
		sess.RegisterPVBytes(int64(len(pv.buf) - before))
	}
	return nil
}

// Flush appends the in-memory write buffer to store as a new segment,
// back-patching the previous segment's tailer to point at it, and
// drops the buffer. Flushing an empty buffer is a no-op.
func (pv *PV) Flush(store Store, sess *session.Session) error {
	if len(pv.buf) == 0 {
		return nil
	}
	segStart, err := store.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if err := writeInt32(store, int32(len(pv.buf))); err != nil {
		return err
	}
	if _, err := store.Write(pv.buf); err != nil {
		return err
	}
	tailerSeek := segStart + 4 + int64(len(pv.buf))
	if err := writeInt64(store, nullTailer); err != nil {
		return err
	}
	if pv.flushed {
		if _, err := store.Seek(pv.lastTailerSeek, io.SeekStart); err != nil {
			return err
		}
		if err := writeInt64(store, segStart); err != nil {
			return err
		}
	} else {
		pv.seekStart = segStart
		pv.flushed = true
	}
	pv.lastTailerSeek = tailerSeek
	freed := len(pv.buf)
	pv.buf = pv.buf[:0]
	if sess != nil {
		sess.RegisterPVBytes(-int64(freed))
	}
	return nil
}

// Rewind resets the read cursor to the start of the PV: the first
// on-disk segment if this PV has ever been flushed, else the start of
// the in-memory buffer.
func (pv *PV) Rewind(store Store) error {
	pv.readLastDi = -1
	pv.readLastPi = -1
	pv.peek = nil
	pv.canUnnext = false
	pv.lastOK = false
	pv.bufReadPos = 0
	if !pv.flushed {
		pv.readInited = true
		pv.readInDisk = false
		return nil
	}
	if _, err := store.Seek(pv.seekStart, io.SeekStart); err != nil {
		return err
	}
	size, err := readInt32(store)
	if err != nil {
		return err
	}
	if size <= 0 {
		return bowerr.ErrBadSegment
	}
	pv.readFilePos = pv.seekStart + 4
	pv.readRemain = int64(size)
	pv.readInDisk = true
	pv.readInited = true
	return nil
}

// Next returns the next (di, pi) pair, advancing the read cursor. ok is
// false (with a nil error) at end of stream.
func (pv *PV) Next(store Store) (Pair, bool, error) {
	if pv.peek != nil {
		p := *pv.peek
		pv.peek = nil
		pv.lastPair, pv.lastOK = p, true
		pv.canUnnext = true
		return p, true, nil
	}
	if !pv.readInited {
		if err := pv.Rewind(store); err != nil {
			return Pair{}, false, err
		}
	}

	if pv.readInDisk {
		for pv.readRemain == 0 {
			if _, err := store.Seek(pv.readFilePos, io.SeekStart); err != nil {
				return Pair{}, false, err
			}
			next, err := readInt64(store)
			if err != nil {
				return Pair{}, false, err
			}
			if next == nullTailer {
				pv.readInDisk = false
				break
			}
			if _, err := store.Seek(next, io.SeekStart); err != nil {
				return Pair{}, false, err
			}
			size, err := readInt32(store)
			if err != nil {
				return Pair{}, false, err
			}
			if size <= 0 {
				return Pair{}, false, bowerr.ErrBadSegment
			}
			pv.readFilePos = next + 4
			pv.readRemain = int64(size)
		}
	}

	if pv.readInDisk {
		if _, err := store.Seek(pv.readFilePos, io.SeekStart); err != nil {
			return Pair{}, false, err
		}
		br := fileByteReader{store}
		delta, isDi, n, err := decodeVarint(br)
		if err != nil {
			return Pair{}, false, err
		}
		pv.readFilePos += int64(n)
		pv.readRemain -= int64(n)
		if isDi {
			pv.readLastDi += int64(delta)
			pv.readLastPi = -1
			delta2, isDi2, n2, err := decodeVarint(br)
			if err != nil {
				return Pair{}, false, err
			}
			if isDi2 {
				return Pair{}, false, bowerr.ErrBadVarint
			}
			pv.readFilePos += int64(n2)
			pv.readRemain -= int64(n2)
			pv.readLastPi += int64(delta2)
		} else {
			pv.readLastPi += int64(delta)
		}
		if pv.readRemain < 0 {
			return Pair{}, false, bowerr.ErrBadSegment
		}
		p := Pair{Doc: pv.readLastDi, Position: pv.readLastPi}
		pv.lastPair, pv.lastOK = p, true
		pv.canUnnext = true
		return p, true, nil
	}

	// Caught up with the on-disk chain (or never flushed); continue
	// reading from the in-memory write buffer.
	if pv.bufReadPos >= len(pv.buf) {
		pv.lastOK = false
		pv.canUnnext = true
		return Pair{}, false, nil
	}
	br := sliceByteReader{pv.buf, pv.bufReadPos}
	delta, isDi, n, err := decodeVarint(&br)
	if err != nil {
		return Pair{}, false, err
	}
	pv.bufReadPos += n
	if isDi {
		pv.readLastDi += int64(delta)
		pv.readLastPi = -1
		delta2, isDi2, n2, err := decodeVarint(&br)
		if err != nil {
			return Pair{}, false, err
		}
		if isDi2 {
			return Pair{}, false, bowerr.ErrBadVarint
		}
		pv.bufReadPos += n2
		pv.readLastPi += int64(delta2)
	} else {
		pv.readLastPi += int64(delta)
	}
	p := Pair{Doc: pv.readLastDi, Position: pv.readLastPi}
	pv.lastPair, pv.lastOK = p, true
	pv.canUnnext = true
	return p, true, nil
}

// Unnext pushes the last value returned by Next back onto the cursor,
// so the next call to Next returns it again. It may not be called
// twice in a row without an intervening Next.
func (pv *PV) Unnext() error {
	if !pv.canUnnext {
		return bowerr.ErrDoubleUnnext
	}
	pv.canUnnext = false
	if pv.lastOK {
		p := pv.lastPair
		pv.peek = &p
	}
	return nil
}

// --- varint codec ---

// appendVarint appends the 7-bit continuation encoding of v, flagged
// is-di or is-position, to dst. The first byte carries 6 payload bits
// plus the is-more and is-di flags; continuation bytes carry 7 payload
// bits plus is-more.
func appendVarint(dst []byte, v uint64, isDi bool) []byte {
	rem := v >> 6
	first := byte(v & 0x3f)
	if isDi {
		first |= 0x40
	}
	if rem != 0 {
		first |= 0x80
	}
	dst = append(dst, first)
	for rem != 0 {
		b := byte(rem & 0x7f)
		rem >>= 7
		if rem != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

type byteReader interface {
	ReadByte() (byte, error)
}

// decodeVarint reads one varint from src, returning its value, its
// is-di flag, and the number of bytes consumed.
func decodeVarint(src byteReader) (v uint64, isDi bool, n int, err error) {
	b, err := src.ReadByte()
	if err != nil {
		return 0, false, 0, err
	}
	n = 1
	isDi = b&0x40 != 0
	v = uint64(b & 0x3f)
	shift := uint(6)
	more := b&0x80 != 0
	for more {
		b, err = src.ReadByte()
		if err != nil {
			return 0, false, 0, err
		}
		n++
		if shift >= 64 {
			return 0, false, 0, bowerr.ErrBadVarint
		}
		v |= uint64(b&0x7f) << shift
		shift += 7
		more = b&0x80 != 0
	}
	return v, isDi, n, nil
}

type sliceByteReader struct {
	buf []byte
	pos int
}

func (r *sliceByteReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, bowerr.ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

type fileByteReader struct {
	store Store
}

func (r fileByteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r.store, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
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
