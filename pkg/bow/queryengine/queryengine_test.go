package queryengine

import (
	"io"
	"testing"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/posting"
	"github.com/cognicore/bow/pkg/bow/session"
)

func TestParseQueryBasic(t *testing.T) {
	atoms, truncated, err := ParseQuery(`+required -forbidden preferred "a phrase here" field:scoped`)
	if err != nil {
		t.Fatal(err)
	}
	if truncated {
		t.Error("expected no truncation for a short query")
	}
	if len(atoms) != 5 {
		t.Fatalf("expected 5 atoms, got %d: %+v", len(atoms), atoms)
	}
	if atoms[0].Kind != Required || atoms[0].Terms[0] != "required" {
		t.Errorf("unexpected required atom: %+v", atoms[0])
	}
	if atoms[1].Kind != Forbidden {
		t.Errorf("unexpected forbidden atom: %+v", atoms[1])
	}
	if atoms[2].Kind != Preferred {
		t.Errorf("unexpected preferred atom: %+v", atoms[2])
	}
	if !atoms[3].IsPhrase || len(atoms[3].Terms) != 3 {
		t.Errorf("unexpected phrase atom: %+v", atoms[3])
	}
	if atoms[4].Field != "field" || atoms[4].Terms[0] != "scoped" {
		t.Errorf("unexpected field-scoped atom: %+v", atoms[4])
	}
}

func TestParseQueryTruncatesBeyondMaxAtoms(t *testing.T) {
	q := ""
	for i := 0; i < MaxAtoms+5; i++ {
		q += "w "
	}
	atoms, truncated, err := ParseQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if !truncated {
		t.Error("expected truncation flag when exceeding MaxAtoms")
	}
	if len(atoms) != MaxAtoms {
		t.Errorf("expected exactly %d atoms, got %d", MaxAtoms, len(atoms))
	}
}

func TestParseQueryEmpty(t *testing.T) {
	_, _, err := ParseQuery("   ")
	if err == nil {
		t.Fatal("expected error for empty query")
	}
}

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

func TestExecuteBooleanRequiredAndForbidden(t *testing.T) {
	b := barrel.New(false)
	termBall := dict.ID(0)
	termGoal := dict.ID(1)
	termBoring := dict.ID(2)

	if _, err := b.AddDocument(barrel.CDoc{Filename: "d0"}, []barrel.WVEntry{
		{Term: termBall, Count: 3}, {Term: termGoal, Count: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddDocument(barrel.CDoc{Filename: "d1"}, []barrel.WVEntry{
		{Term: termBall, Count: 1}, {Term: termBoring, Count: 5},
	}); err != nil {
		t.Fatal(err)
	}

	d := dict.New(false)
	if got := d.Intern("ball"); got != termBall {
		t.Fatalf("expected ball at id %d, got %d", termBall, got)
	}
	if got := d.Intern("goal"); got != termGoal {
		t.Fatalf("expected goal at id %d, got %d", termGoal, got)
	}
	if got := d.Intern("boring"); got != termBoring {
		t.Fatalf("expected boring at id %d, got %d", termBoring, got)
	}

	atoms, _, err := ParseQuery("+ball -boring")
	if err != nil {
		t.Fatal(err)
	}
	hits, err := Execute(b, d, atoms, nil, Raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Doc != 0 {
		t.Errorf("expected only document 0 to match +ball -boring, got %+v", hits)
	}
}

func TestExecuteRequiredAtomAbsentTermEmptiesResults(t *testing.T) {
	b := barrel.New(false)
	if _, err := b.AddDocument(barrel.CDoc{Filename: "d0"}, []barrel.WVEntry{{Term: 0, Count: 1}}); err != nil {
		t.Fatal(err)
	}
	d := dict.New(false)
	d.Intern("present")

	atoms, _, err := ParseQuery("+neverindexed")
	if err != nil {
		t.Fatal(err)
	}
	hits, err := Execute(b, d, atoms, nil, Raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for a required term absent from the dictionary, got %+v", hits)
	}
}

func buildPhrasePV(t *testing.T, entries []posting.Pair) (*posting.PV, posting.Store) {
	t.Helper()
	pv := posting.New()
	sess := session.New(false)
	store := &memStore{}
	for _, e := range entries {
		if err := pv.Add(e.Doc, e.Position, sess); err != nil {
			t.Fatal(err)
		}
	}
	if err := pv.Flush(store, sess); err != nil {
		t.Fatal(err)
	}
	return pv, store
}

func TestMatchPhrase(t *testing.T) {
	// term "new" at positions 0,5 in doc 0; 2 in doc 1
	// term "york" at positions 1,6 in doc 0; 9 in doc 1 (not adjacent to "new" in doc1)
	newPV, newStore := buildPhrasePV(t, []posting.Pair{
		{Doc: 0, Position: 0}, {Doc: 0, Position: 5}, {Doc: 1, Position: 2},
	})
	yorkPV, yorkStore := buildPhrasePV(t, []posting.Pair{
		{Doc: 0, Position: 1}, {Doc: 0, Position: 6}, {Doc: 1, Position: 9},
	})

	opener := func(term dict.ID) (*posting.PV, posting.Store, bool, error) {
		switch term {
		case 0:
			return newPV, newStore, true, nil
		case 1:
			return yorkPV, yorkStore, true, nil
		}
		return nil, nil, false, nil
	}

	hits, err := MatchPhrase([]dict.ID{0, 1}, opener)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0] != 0 {
		t.Errorf("expected exactly one phrase hit in doc 0, got %+v", hits)
	}
}
