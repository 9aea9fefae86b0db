package posting

import (
	"io"
	"testing"
)

// memStore is a minimal in-memory Store backed by a growable byte
// buffer, standing in for the shared on-disk PV file in tests.
type memStore struct {
	data []byte
	pos  int64
}

func (m *memStore) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memStore) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memStore) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.data)) + offset
	}
	return m.pos, nil
}

func readAll(t *testing.T, pv *PV, store Store) []Pair {
	t.Helper()
	if err := pv.Rewind(store); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	var got []Pair
	for {
		p, ok, err := pv.Next(store)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			return got
		}
		got = append(got, p)
	}
}

func pairsEqual(a, b []Pair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestRoundTrip covers property 1: writing S with arbitrary flush
// boundaries and reading sequentially yields S exactly.
func TestRoundTrip(t *testing.T) {
	seqs := [][]Pair{
		{{0, 0}, {0, 1}, {3, 0}, {3, 2}, {127, 0}},
		{{0, 0}, {1, 0}, {1, 1}, {1, 2}, {500, 9000}},
		{{5, 5}},
	}
	for _, want := range seqs {
		store := &memStore{}
		pv := New()
		for i, p := range want {
			if err := pv.Add(p.Doc, p.Position, nil); err != nil {
				t.Fatalf("add %d: %v", i, err)
			}
			// Flush after every other pair to exercise segment
			// boundaries mid-stream.
			if i%2 == 1 {
				if err := pv.Flush(store, nil); err != nil {
					t.Fatalf("flush: %v", err)
				}
			}
		}
		if err := pv.Flush(store, nil); err != nil {
			t.Fatalf("final flush: %v", err)
		}
		got := readAll(t, pv, store)
		if !pairsEqual(got, want) {
			t.Errorf("round trip: got %v, want %v", got, want)
		}
	}
}

// TestScenarioD writes five pairs with a flush after the third, and
// confirms exact sequential read-back across the segment boundary.
func TestScenarioD(t *testing.T) {
	want := []Pair{{0, 0}, {0, 1}, {3, 0}, {3, 2}, {127, 0}}
	store := &memStore{}
	pv := New()
	for i, p := range want {
		if err := pv.Add(p.Doc, p.Position, nil); err != nil {
			t.Fatalf("add: %v", err)
		}
		if i == 2 {
			if err := pv.Flush(store, nil); err != nil {
				t.Fatalf("flush: %v", err)
			}
		}
	}
	if err := pv.Flush(store, nil); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := readAll(t, pv, store)
	if !pairsEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestRewindIdempotence covers property 2.
func TestRewindIdempotence(t *testing.T) {
	store := &memStore{}
	pv := New()
	for _, p := range []Pair{{0, 0}, {1, 0}, {1, 4}, {9, 2}} {
		if err := pv.Add(p.Doc, p.Position, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := pv.Flush(store, nil); err != nil {
		t.Fatal(err)
	}
	first := readAll(t, pv, store)
	second := readAll(t, pv, store)
	if !pairsEqual(first, second) {
		t.Errorf("rewind not idempotent: %v vs %v", first, second)
	}
}

// TestUnnext covers property 3: read; unnext; read == read; read, and
// double-unnext is rejected.
func TestUnnext(t *testing.T) {
	store := &memStore{}
	pv := New()
	for _, p := range []Pair{{0, 0}, {0, 1}, {2, 0}} {
		if err := pv.Add(p.Doc, p.Position, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := pv.Flush(store, nil); err != nil {
		t.Fatal(err)
	}
	if err := pv.Rewind(store); err != nil {
		t.Fatal(err)
	}

	first, ok, err := pv.Next(store)
	if err != nil || !ok {
		t.Fatalf("first next: %v %v %v", first, ok, err)
	}
	if err := pv.Unnext(); err != nil {
		t.Fatalf("unnext: %v", err)
	}
	repeat, ok, err := pv.Next(store)
	if err != nil || !ok || repeat != first {
		t.Fatalf("expected repeat of %v, got %v ok=%v err=%v", first, repeat, ok, err)
	}
	second, ok, err := pv.Next(store)
	if err != nil || !ok {
		t.Fatalf("second next: %v", err)
	}
	if second == first {
		t.Fatalf("expected distinct second pair, got repeat of %v", first)
	}

	if err := pv.Unnext(); err != nil {
		t.Fatalf("unnext after second next: %v", err)
	}
	if err := pv.Unnext(); err == nil {
		t.Fatal("expected error on double unnext")
	}
}

// TestEndOfStream confirms reading past the end returns ok=false with
// no error, and is stable across repeated calls.
func TestEndOfStream(t *testing.T) {
	store := &memStore{}
	pv := New()
	if err := pv.Add(0, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := pv.Flush(store, nil); err != nil {
		t.Fatal(err)
	}
	if err := pv.Rewind(store); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := pv.Next(store); err != nil || !ok {
		t.Fatalf("expected one pair, got ok=%v err=%v", ok, err)
	}
	for i := 0; i < 2; i++ {
		if _, ok, err := pv.Next(store); err != nil || ok {
			t.Fatalf("expected end of stream, got ok=%v err=%v", ok, err)
		}
	}
}

// TestUnflushedReadsFromBuffer confirms postings never flushed to disk
// are still readable straight out of the write buffer.
func TestUnflushedReadsFromBuffer(t *testing.T) {
	store := &memStore{}
	pv := New()
	want := []Pair{{0, 0}, {0, 1}, {1, 0}}
	for _, p := range want {
		if err := pv.Add(p.Doc, p.Position, nil); err != nil {
			t.Fatal(err)
		}
	}
	got := readAll(t, pv, store)
	if !pairsEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestMixedDiskAndBuffer flushes a prefix, adds more postings without
// flushing, then confirms a read sweeps across both.
func TestMixedDiskAndBuffer(t *testing.T) {
	store := &memStore{}
	pv := New()
	for _, p := range []Pair{{0, 0}, {1, 0}} {
		if err := pv.Add(p.Doc, p.Position, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := pv.Flush(store, nil); err != nil {
		t.Fatal(err)
	}
	for _, p := range []Pair{{1, 5}, {8, 0}} {
		if err := pv.Add(p.Doc, p.Position, nil); err != nil {
			t.Fatal(err)
		}
	}
	want := []Pair{{0, 0}, {1, 0}, {1, 5}, {8, 0}}
	got := readAll(t, pv, store)
	if !pairsEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestAddOutOfOrder confirms a backward document id is fatal.
func TestAddOutOfOrder(t *testing.T) {
	pv := New()
	if err := pv.Add(5, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := pv.Add(4, 0, nil); err == nil {
		t.Fatal("expected out-of-order error")
	}
}

// TestOpenLazyLoad confirms a PV reconstructed from a prior seekStart
// can read back a previously-flushed chain.
func TestOpenLazyLoad(t *testing.T) {
	store := &memStore{}
	original := New()
	want := []Pair{{0, 0}, {0, 7}, {4, 0}}
	for _, p := range want {
		if err := original.Add(p.Doc, p.Position, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := original.Flush(store, nil); err != nil {
		t.Fatal(err)
	}
	start, ok := original.SeekStart()
	if !ok {
		t.Fatal("expected flushed")
	}
	reopened := Open(start)
	got := readAll(t, reopened, store)
	if !pairsEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 127, 128, 1 << 20, 1 << 40}
	for _, v := range values {
		for _, isDi := range []bool{true, false} {
			buf := appendVarint(nil, v, isDi)
			got, gotIsDi, n, err := decodeVarint(&sliceByteReader{buf: buf})
			if err != nil {
				t.Fatalf("decode %d: %v", v, err)
			}
			if got != v || gotIsDi != isDi || n != len(buf) {
				t.Errorf("roundtrip %d/%v: got %d/%v consumed %d of %d", v, isDi, got, gotIsDi, n, len(buf))
			}
		}
	}
}

func TestFlushBackpatchesTailer(t *testing.T) {
	store := &memStore{}
	pv := New()
	if err := pv.Add(0, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := pv.Flush(store, nil); err != nil {
		t.Fatal(err)
	}
	if err := pv.Add(1, 0, nil); err != nil {
		t.Fatal(err)
	}
	if err := pv.Flush(store, nil); err != nil {
		t.Fatal(err)
	}
	got := readAll(t, pv, store)
	want := []Pair{{0, 0}, {1, 0}}
	if !pairsEqual(got, want) {
		t.Errorf("got %v want %v", got, want)
	}
}
