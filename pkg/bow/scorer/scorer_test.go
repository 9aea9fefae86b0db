package scorer

import (
	"math"
	"testing"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/invindex"
	"github.com/cognicore/bow/pkg/bow/smoothing"
)

func buildTwoClassBarrel(t *testing.T) *barrel.Barrel {
	t.Helper()
	cb := &barrel.Barrel{IsVPC: true, ClassNames: barrel.NewClassNames(), Index: invindex.New(8)}
	cb.ClassNames.Intern("sports")
	cb.ClassNames.Intern("politics")
	cb.Docs = []barrel.CDoc{
		{Class: 0, Tag: barrel.Train, Prior: 0.5},
		{Class: 1, Tag: barrel.Train, Prior: 0.5},
	}
	// term 0 = "ball" heavy in sports, term 1 = "vote" heavy in politics
	add := func(term dict.ID, class int64, count int64) {
		if err := cb.Index.Add(term, class, count, 1.0); err != nil {
			t.Fatal(err)
		}
	}
	add(0, 0, 20)
	add(1, 0, 1)
	add(0, 1, 1)
	add(1, 1, 20)
	cb.Docs[0].WordCount = 21
	cb.Docs[1].WordCount = 21
	return cb
}

func TestNaiveBayesMultinomialPrefersMatchingClass(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	est := smoothing.New(smoothing.Laplace, 2)
	nb := &NaiveBayesMultinomial{Est: est}
	results, err := nb.Score(cb, []barrel.WVEntry{{Term: 0, Count: 5}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 ranked classes, got %d", len(results))
	}
	if results[0].Class != 0 {
		t.Errorf("expected sports (class 0) to rank first for a ball-heavy query, got class %d", results[0].Class)
	}
	sum := results[0].Score + results[1].Score
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("expected normalized scores to sum to ~1, got %f", sum)
	}
}

func TestNaiveBayesMultinomialImpossibleClassExcluded(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	cb.Docs[1].Prior = 0
	est := smoothing.New(smoothing.Laplace, 2)
	nb := &NaiveBayesMultinomial{Est: est}
	results, err := nb.Score(cb, []barrel.WVEntry{{Term: 0, Count: 1}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Class == 1 {
			t.Errorf("expected zero-prior class excluded from ranking, got %+v", r)
		}
	}
}

func TestNaiveBayesBernoulli(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	est := smoothing.New(smoothing.Laplace, 2)
	nb := &NaiveBayesBernoulli{Est: est, Vocab: []dict.ID{0, 1}}
	results, err := nb.Score(cb, []barrel.WVEntry{{Term: 1, Count: 1}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Class != 1 {
		t.Errorf("expected politics (class 1) to rank first for a vote query, got class %d", results[0].Class)
	}
}

func TestTFIDFCosineSelfSimilarity(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	tfidf := &TFIDFCosine{IDF: map[dict.ID]float64{0: 1, 1: 1}}
	results, err := tfidf.Score(cb, []barrel.WVEntry{{Term: 0, Count: 20}, {Term: 1, Count: 1}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Class != 0 {
		t.Errorf("expected exact-match class to rank first, got %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected near-1.0 cosine similarity for identical vector, got %f", results[0].Score)
	}
}

func TestKNNAccumulatesPerClass(t *testing.T) {
	docBarrel := &barrel.Barrel{ClassNames: barrel.NewClassNames(), Index: invindex.New(8)}
	docBarrel.ClassNames.Intern("sports")
	docBarrel.ClassNames.Intern("politics")
	docBarrel.Docs = []barrel.CDoc{
		{Class: 0}, {Class: 0}, {Class: 1},
	}
	docBarrel.Index.Add(0, 0, 10, 1)
	docBarrel.Index.Add(0, 1, 8, 1)
	docBarrel.Index.Add(1, 2, 10, 1)

	knn := &KNN{IDF: map[dict.ID]float64{0: 1, 1: 1}}
	results, err := knn.Score(docBarrel, []barrel.WVEntry{{Term: 0, Count: 10}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Class != 0 {
		t.Errorf("expected class 0 to win the 2 nearest neighbors, got %+v", results)
	}
}

func TestPrIndRanking(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	est := smoothing.New(smoothing.Laplace, 2)
	pr := &PrInd{Est: est, PW: map[dict.ID]float64{0: 0.5, 1: 0.5}}
	results, err := pr.Score(cb, []barrel.WVEntry{{Term: 0, Count: 1}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Class != 0 {
		t.Errorf("expected sports to rank first, got %+v", results)
	}
}

func TestKLDivergenceRanking(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	est := smoothing.New(smoothing.Laplace, 2)
	kl := &KLDivergence{Est: est}
	results, err := kl.Score(cb, []barrel.WVEntry{{Term: 0, Count: 20}, {Term: 1, Count: 1}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Class != 0 {
		t.Errorf("expected lowest-divergence class (sports) to rank first, got %+v", results)
	}
}

func TestEvidenceRanking(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	est := smoothing.New(smoothing.Laplace, 2)
	ev := &Evidence{Est: est}
	results, err := ev.Score(cb, []barrel.WVEntry{{Term: 1, Count: 5}}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Class != 1 {
		t.Errorf("expected politics to rank first for a vote-heavy query, got %+v", results)
	}
}

func TestZeroQueryReturnsEmpty(t *testing.T) {
	cb := buildTwoClassBarrel(t)
	est := smoothing.New(smoothing.Laplace, 2)
	kl := &KLDivergence{Est: est}
	results, err := kl.Score(cb, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty result for zero-word query, got %+v", results)
	}
}

func TestRescaleAndNormalizeHandlesImpossible(t *testing.T) {
	scores := map[int32]float64{0: -5, 1: impossibleScore, 2: -3}
	out := rescaleAndNormalize(scores)
	sum := 0.0
	for _, o := range out {
		if o.Class == 1 && o.Score != 0 {
			t.Errorf("expected impossible class to score 0, got %f", o.Score)
		}
		sum += o.Score
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("expected normalized scores to sum to 1, got %f", sum)
	}
}
