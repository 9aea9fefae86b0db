package tagging

import (
	"testing"

	"github.com/cognicore/bow/pkg/bow/barrel"
)

func makeBarrel(classCounts map[string]int) *barrel.Barrel {
	b := barrel.New(false)
	for className, n := range classCounts {
		class := b.ClassNames.Intern(className)
		for i := 0; i < n; i++ {
			b.Docs = append(b.Docs, barrel.CDoc{Class: class, Filename: className})
		}
	}
	return b
}

func TestFileListRule(t *testing.T) {
	b := barrel.New(false)
	b.Docs = []barrel.CDoc{
		{Filename: "a.txt"}, {Filename: "b.txt"}, {Filename: "c.txt"},
	}
	e := New(1)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Test, Kind: RuleFileList, FileList: []string{"b.txt"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Docs[1].Tag != barrel.Test {
		t.Errorf("expected b.txt tagged Test, got %v", b.Docs[1].Tag)
	}
	if b.Docs[0].Tag != barrel.Untagged || b.Docs[2].Tag != barrel.Untagged {
		t.Error("expected other docs to remain untagged")
	}
}

func TestPerClassCountAndRemaining(t *testing.T) {
	b := makeBarrel(map[string]int{"sports": 10, "politics": 10})
	e := New(42)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Test, Kind: RulePerClassCount, PerClassCount: 3},
		{Tag: barrel.Train, Kind: RuleRemaining},
	})
	if err != nil {
		t.Fatal(err)
	}
	counts := map[barrel.Tag]int{}
	for _, cdoc := range b.Docs {
		counts[cdoc.Tag]++
	}
	if counts[barrel.Test] != 6 {
		t.Errorf("expected 6 test docs (3 per class), got %d", counts[barrel.Test])
	}
	if counts[barrel.Train] != 14 {
		t.Errorf("expected 14 remaining train docs, got %d", counts[barrel.Train])
	}
	if counts[barrel.Untagged] != 0 {
		t.Errorf("expected no untagged docs left, got %d", counts[barrel.Untagged])
	}
}

func TestFractionProportionalAllocation(t *testing.T) {
	b := makeBarrel(map[string]int{"a": 70, "b": 30})
	e := New(7)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Test, Kind: RuleFraction, Count: 10},
		{Tag: barrel.Train, Kind: RuleRemaining},
	})
	if err != nil {
		t.Fatal(err)
	}
	counts := map[int32]int{}
	for _, cdoc := range b.Docs {
		if cdoc.Tag == barrel.Test {
			counts[cdoc.Class]++
		}
	}
	classA, _ := b.ClassNames.Lookup("a")
	classB, _ := b.ClassNames.Lookup("b")
	if counts[classA]+counts[classB] != 10 {
		t.Fatalf("expected exactly 10 test docs total, got a=%d b=%d", counts[classA], counts[classB])
	}
	if counts[classA] != 7 || counts[classB] != 3 {
		t.Errorf("expected proportional 7/3 split, got a=%d b=%d", counts[classA], counts[classB])
	}
}

func TestFancyCounts(t *testing.T) {
	b := makeBarrel(map[string]int{"sports": 5, "politics": 5})
	e := New(3)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Validation, Kind: RuleFancyCount, FancyCounts: map[string]int{"sports": 2, "politics": 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	counts := map[int32]int{}
	for _, cdoc := range b.Docs {
		if cdoc.Tag == barrel.Validation {
			counts[cdoc.Class]++
		}
	}
	sports, _ := b.ClassNames.Lookup("sports")
	politics, _ := b.ClassNames.Lookup("politics")
	if counts[sports] != 2 || counts[politics] != 1 {
		t.Errorf("unexpected fancy-count allocation: sports=%d politics=%d", counts[sports], counts[politics])
	}
}

func TestTSuffixRebalancingAppliesLast(t *testing.T) {
	b := makeBarrel(map[string]int{"a": 10})
	e := New(9)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Train, Kind: RuleRemaining},
		{Tag: barrel.Unlabeled, Kind: RuleFraction, Count: 4, FromTrainPool: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	counts := map[barrel.Tag]int{}
	for _, cdoc := range b.Docs {
		counts[cdoc.Tag]++
	}
	if counts[barrel.Unlabeled] != 4 {
		t.Errorf("expected 4 docs pulled from the train pool into unlabeled, got %d", counts[barrel.Unlabeled])
	}
	if counts[barrel.Train] != 6 {
		t.Errorf("expected 6 remaining train docs after rebalancing, got %d", counts[barrel.Train])
	}
}

func TestPerClassCountClampsToAvailable(t *testing.T) {
	b := makeBarrel(map[string]int{"rare": 2})
	e := New(5)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Test, Kind: RulePerClassCount, PerClassCount: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	counts := 0
	for _, cdoc := range b.Docs {
		if cdoc.Tag == barrel.Test {
			counts++
		}
	}
	if counts != 2 {
		t.Errorf("expected clamped count of 2, got %d", counts)
	}
}

func TestFractionProportionsFromNonIgnorePoolByDefault(t *testing.T) {
	// Drain class a unevenly first, then ask for half the corpus: the
	// fraction rule's shares must come from the full 10/10 class
	// sizes, not from the skewed 4/10 untagged remainder.
	b := makeBarrel(map[string]int{"a": 10, "b": 10})
	e := New(7)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Validation, Kind: RuleFancyCount, FancyCounts: map[string]int{"a": 6}},
		{Tag: barrel.Test, Kind: RuleFraction, Fraction: 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	// The fancy count tagged 6 of class a, so a has 4 untagged docs left
	// and b still has 10. A 0.5 fraction of the 20-document non-ignore pool
	// wants 5 per class; class a can only supply its 4 remaining.
	perClass := map[int32]int{}
	for _, cdoc := range b.Docs {
		if cdoc.Tag == barrel.Test {
			perClass[cdoc.Class]++
		}
	}
	aID, _ := b.ClassNames.Lookup("a")
	bID, _ := b.ClassNames.Lookup("b")
	if perClass[aID] != 4 {
		t.Errorf("expected class a clamped to its 4 untagged docs, got %d", perClass[aID])
	}
	if perClass[bID] != 5 {
		t.Errorf("expected 5 test docs from class b (half its corpus share), got %d", perClass[bID])
	}
}

func TestFractionFromUntaggedPoolFollowsSkew(t *testing.T) {
	// Same setup with the "r" suffix: proportions and target now come
	// from the 4+10 untagged pool, so class b's larger remainder earns
	// it the larger share of floor(0.5*14) = 7.
	b := makeBarrel(map[string]int{"a": 10, "b": 10})
	e := New(7)
	err := e.Apply(b, []Rule{
		{Tag: barrel.Validation, Kind: RuleFancyCount, FancyCounts: map[string]int{"a": 6}},
		{Tag: barrel.Test, Kind: RuleFraction, Fraction: 0.5, FromUntaggedPool: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	perClass := map[int32]int{}
	total := 0
	for _, cdoc := range b.Docs {
		if cdoc.Tag == barrel.Test {
			perClass[cdoc.Class]++
			total++
		}
	}
	if total != 7 {
		t.Fatalf("expected 7 test docs from the untagged pool, got %d", total)
	}
	aID, _ := b.ClassNames.Lookup("a")
	bID, _ := b.ClassNames.Lookup("b")
	if perClass[bID] <= perClass[aID] {
		t.Errorf("expected class b's larger untagged pool to earn the larger share, got a=%d b=%d",
			perClass[aID], perClass[bID])
	}
}
