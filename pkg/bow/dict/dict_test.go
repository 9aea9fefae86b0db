package dict

import (
	"bytes"
	"testing"
)

// TestInternLookupBijection covers testable property 4: for every s
// passed to Intern, name(intern(s)) == s; for every i < V,
// intern(name(i)) == i.
func TestInternLookupBijection(t *testing.T) {
	d := New(false)
	words := []string{"alpha", "beta", "gamma", "delta", "beta", "alpha", "epsilon"}
	ids := make(map[string]ID)
	for _, w := range words {
		id := d.Intern(w)
		if prev, ok := ids[w]; ok && prev != id {
			t.Fatalf("intern(%q) not stable: got %d, want %d", w, id, prev)
		}
		ids[w] = id
		name, ok := d.Name(id)
		if !ok || name != w {
			t.Fatalf("name(intern(%q)) = (%q, %v), want (%q, true)", w, name, ok, w)
		}
	}
	for i := 0; i < d.Size(); i++ {
		name, ok := d.Name(ID(i))
		if !ok {
			t.Fatalf("name(%d) missing", i)
		}
		if got := d.Intern(name); got != ID(i) {
			t.Errorf("intern(name(%d)) = %d, want %d", i, got, i)
		}
	}
}

func TestLookupAbsent(t *testing.T) {
	d := New(false)
	d.Intern("alpha")
	if _, ok := d.Lookup("nowhere"); ok {
		t.Error("expected absent term to report ok=false")
	}
	if id, _ := d.Lookup("nowhere"); id != AbsentID {
		t.Errorf("expected AbsentID, got %d", id)
	}
}

func TestReserveUnknown(t *testing.T) {
	d := New(true)
	if d.Size() != 1 {
		t.Fatalf("expected reserved unknown id to occupy slot 0, got size %d", d.Size())
	}
	id := d.Intern("alpha")
	if id == UnknownID {
		t.Error("first real term should not collide with UnknownID")
	}
	if got, ok := d.Lookup("nowhere"); ok || got != UnknownID {
		t.Errorf("lookup of unseen term with reserved unknown = (%d, %v), want (%d, false)", got, ok, UnknownID)
	}
}

func TestFrozenRejectsNewTerms(t *testing.T) {
	d := New(false)
	d.Intern("alpha")
	d.Freeze()
	if id := d.Intern("beta"); id != AbsentID {
		t.Errorf("frozen dict admitted new term, got id %d", id)
	}
	if id := d.Intern("alpha"); id == AbsentID {
		t.Error("frozen dict should still resolve already-seen terms")
	}
}

func TestRecordOccurrenceDoesNotInflateOnLookup(t *testing.T) {
	d := New(false)
	id := d.Intern("alpha")
	d.Lookup("alpha")
	d.Lookup("alpha")
	d.Intern("alpha")
	if got := d.Occurrence(id); got != 0 {
		t.Errorf("lookups/re-interns should not bump occurrence, got %d", got)
	}
	d.RecordOccurrence(id)
	d.RecordOccurrence(id)
	if got := d.Occurrence(id); got != 2 {
		t.Errorf("expected occurrence 2, got %d", got)
	}
}

func TestPruneBelowRewritesIDs(t *testing.T) {
	d := New(false)
	rare := d.Intern("rare")
	common := d.Intern("common")
	d.RecordOccurrence(rare)
	for i := 0; i < 5; i++ {
		d.RecordOccurrence(common)
	}

	nd, mapping := d.PruneBelow(2)
	if nd.Size() != 1 {
		t.Fatalf("expected 1 surviving term, got %d", nd.Size())
	}
	newCommon, ok := mapping[common]
	if !ok {
		t.Fatal("expected common term to survive pruning")
	}
	if name, _ := nd.Name(newCommon); name != "common" {
		t.Errorf("expected surviving term %q, got %q", "common", name)
	}
	if _, ok := mapping[rare]; ok {
		t.Error("rare term should have been pruned")
	}
}

func TestKeepTopByScore(t *testing.T) {
	d := New(false)
	a := d.Intern("a")
	b := d.Intern("b")
	c := d.Intern("c")
	scores := make([]float64, d.Size())
	scores[a] = 0.1
	scores[b] = 0.9
	scores[c] = 0.5

	nd, mapping := d.KeepTopByScore(2, scores)
	if nd.Size() != 2 {
		t.Fatalf("expected 2 surviving terms, got %d", nd.Size())
	}
	if _, ok := mapping[a]; ok {
		t.Error("lowest-scoring term should not survive top-2 selection")
	}
	if _, ok := mapping[b]; !ok {
		t.Error("highest-scoring term should survive")
	}
	if _, ok := mapping[c]; !ok {
		t.Error("second-highest-scoring term should survive")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	d := New(false)
	for _, w := range []string{"alpha", "beta", "gamma"} {
		id := d.Intern(w)
		for i := 0; i <= int(id); i++ {
			d.RecordOccurrence(id)
		}
	}

	var buf bytes.Buffer
	if _, err := d.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	nd, err := ReadFrom(&buf, false)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if nd.Size() != d.Size() {
		t.Fatalf("size mismatch: got %d, want %d", nd.Size(), d.Size())
	}
	for i := 0; i < d.Size(); i++ {
		name, _ := d.Name(ID(i))
		gotName, _ := nd.Name(ID(i))
		if gotName != name {
			t.Errorf("id %d: got term %q, want %q", i, gotName, name)
		}
		if got := nd.Occurrence(ID(i)); got != d.Occurrence(ID(i)) {
			t.Errorf("id %d: got occurrence %d, want %d", i, got, d.Occurrence(ID(i)))
		}
	}
}

func TestHash131CollisionsShareProbeSequence(t *testing.T) {
	d := New(false)
	// Insert enough terms to force several collisions and rehashes, then
	// confirm every term is still independently resolvable: insertion and
	// lookup must walk the identical probe sequence.
	var terms []string
	for i := 0; i < 500; i++ {
		terms = append(terms, randTerm(i))
	}
	for _, w := range terms {
		d.Intern(w)
	}
	for _, w := range terms {
		id, ok := d.Lookup(w)
		if !ok {
			t.Fatalf("lookup failed for %q after bulk insert", w)
		}
		name, _ := d.Name(id)
		if name != w {
			t.Errorf("lookup(%q) resolved to id naming %q", w, name)
		}
	}
}

func randTerm(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, 3+i%5)
	n := uint32(i)*2654435761 + 1
	for j := range b {
		n = n*1103515245 + 12345
		b[j] = alphabet[(n>>16)%uint32(len(alphabet))]
	}
	return string(b)
}
