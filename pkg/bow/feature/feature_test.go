package feature

import (
	"testing"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
)

func buildDiscriminativeBarrel(t *testing.T) *barrel.Barrel {
	t.Helper()
	b := barrel.New(false)
	sports := b.ClassNames.Intern("sports")
	politics := b.ClassNames.Intern("politics")

	discriminative := dict.ID(0) // appears only in sports
	neutral := dict.ID(1)        // appears evenly in both

	for i := 0; i < 5; i++ {
		if _, err := b.AddDocument(barrel.CDoc{Class: sports, Tag: barrel.Train}, []barrel.WVEntry{
			{Term: discriminative, Count: 1}, {Term: neutral, Count: 1},
		}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := b.AddDocument(barrel.CDoc{Class: politics, Tag: barrel.Train}, []barrel.WVEntry{
			{Term: neutral, Count: 1},
		}); err != nil {
			t.Fatal(err)
		}
	}
	return b
}

func TestInfoGainRanksDiscriminativeTermHigher(t *testing.T) {
	b := buildDiscriminativeBarrel(t)
	tables := BuildContingencyTables(b)
	discGain := InfoGain(tables[0])
	neutralGain := InfoGain(tables[1])
	if discGain <= neutralGain {
		t.Errorf("expected discriminative term's info gain (%f) > neutral term's (%f)", discGain, neutralGain)
	}
	if discGain <= 0 {
		t.Error("expected positive info gain for a perfectly discriminative term")
	}
}

func TestFoilGainPositiveForDiscriminativeTerm(t *testing.T) {
	b := buildDiscriminativeBarrel(t)
	tables := BuildContingencyTables(b)
	sports, _ := b.ClassNames.Lookup("sports")
	gain := FoilGain(tables[0][sports])
	if gain <= 0 {
		t.Errorf("expected positive foil gain for sports-discriminative term, got %f", gain)
	}
	neutralGain := FoilGain(tables[1][sports])
	if gain <= neutralGain {
		t.Errorf("expected discriminative term's foil gain (%f) > neutral's (%f)", gain, neutralGain)
	}
}

func TestOddsRatioPositiveForDiscriminativeTerm(t *testing.T) {
	b := buildDiscriminativeBarrel(t)
	tables := BuildContingencyTables(b)
	sports, _ := b.ClassNames.Lookup("sports")
	odds := OddsRatio(tables[0][sports])
	if odds <= 0 {
		t.Errorf("expected positive log-odds for sports-discriminative term, got %f", odds)
	}
}

func TestScoreTermsSortsDescending(t *testing.T) {
	b := buildDiscriminativeBarrel(t)
	sports, _ := b.ClassNames.Lookup("sports")
	scores := ScoreTerms(b, Foil, sports)
	if len(scores) != 2 {
		t.Fatalf("expected 2 scored terms, got %d", len(scores))
	}
	if scores[0].Score < scores[1].Score {
		t.Errorf("expected descending order, got %+v", scores)
	}
	if scores[0].Term != 0 {
		t.Errorf("expected discriminative term to rank first, got term %d", scores[0].Term)
	}
}

func TestSelectTopNRewriteShrinksDictionary(t *testing.T) {
	d := dict.New(false)
	d.Intern("keep")
	d.Intern("drop")
	scores := []TermScore{{Term: 0, Score: 10}, {Term: 1, Score: 0.1}}
	newDict, remap := SelectTopNRewrite(d, scores, 1)
	if newDict.Size() != 1 {
		t.Errorf("expected dictionary trimmed to 1 term, got %d", newDict.Size())
	}
	if _, ok := remap[0]; !ok {
		t.Error("expected kept term present in remap")
	}
}

func TestHideBelowTopN(t *testing.T) {
	b := buildDiscriminativeBarrel(t)
	sports, _ := b.ClassNames.Lookup("sports")
	scores := ScoreTerms(b, Foil, sports)
	if err := HideBelowTopN(b.Index, scores, 1); err != nil {
		t.Fatal(err)
	}
	keep := scores[0].Term
	drop := scores[1].Term
	if b.Index.IsHidden(keep) {
		t.Error("expected top-scoring term to remain visible")
	}
	if !b.Index.IsHidden(drop) {
		t.Error("expected lower-scoring term to be hidden")
	}
}

func TestPMIAssociationRanksDiscriminativeTermHigher(t *testing.T) {
	b := buildDiscriminativeBarrel(t)
	scores := ScoreTerms(b, PMI, 0)
	byTerm := make(map[dict.ID]float64, len(scores))
	for _, s := range scores {
		byTerm[s.Term] = s.Score
	}
	if byTerm[0] <= byTerm[1] {
		t.Errorf("expected sports-only term's PMI (%f) > neutral term's (%f)", byTerm[0], byTerm[1])
	}
	if byTerm[0] <= 0 {
		t.Error("expected positive PMI for a class-exclusive term")
	}
}
