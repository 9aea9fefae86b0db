// Package feature implements feature selection: information
// gain, foil gain, odds ratio, and PMI scores per term, with a top-N
// selection step that rewrites the dictionary (and remaps the barrel's
// WI2DVF) or hides low-scoring WI2DVF entries in place. Every
// statistic reads off the same per-word contingency tables.
package feature

import (
	"math"
	"sort"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/pmi"
)

// Contingency is the per-term 2x2 table under a document-event model:
// how many documents containing (or not containing) the term fall in
// class c versus not-c.
type Contingency struct {
	// WithWordInClass / WithWordNotInClass count documents that
	// contain the word, split by whether they belong to the class
	// being scored against.
	WithWordInClass, WithWordNotInClass float64
	// WithoutWordInClass / WithoutWordNotInClass count documents that
	// do not contain the word, split the same way.
	WithoutWordInClass, WithoutWordNotInClass float64
}

func (c Contingency) total() float64 {
	return c.WithWordInClass + c.WithWordNotInClass + c.WithoutWordInClass + c.WithoutWordNotInClass
}

// entropy is the base-2 Shannon entropy of a set of non-negative
// counts.
func entropy(counts ...float64) float64 {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := c / total
		h -= p * math.Log2(p)
	}
	return h
}

// BuildContingencyTables constructs one Contingency per (term, class)
// pair under the document event model: a document "contains" a term
// if its WI2DVF posting has non-zero count.
func BuildContingencyTables(doc *barrel.Barrel) map[dict.ID]map[int32]Contingency {
	numClasses := doc.ClassNames.NumClasses()
	out := make(map[dict.ID]map[int32]Contingency)

	classTotals := make([]float64, numClasses)
	for _, cdoc := range doc.Docs {
		if int(cdoc.Class) < numClasses {
			classTotals[cdoc.Class]++
		}
	}
	totalDocs := float64(len(doc.Docs))

	for _, term := range doc.Index.PresentTerms() {
		vec, ok, err := doc.Index.Vector(term)
		if err != nil || !ok {
			continue
		}
		withInClass := make([]float64, numClasses)
		for _, e := range vec {
			if e.Count <= 0 {
				continue
			}
			if int(e.Doc) >= len(doc.Docs) {
				continue
			}
			class := doc.Docs[e.Doc].Class
			if int(class) < numClasses {
				withInClass[class]++
			}
		}
		perClass := make(map[int32]Contingency, numClasses)
		totalWithWord := 0.0
		for _, n := range withInClass {
			totalWithWord += n
		}
		for ci := 0; ci < numClasses; ci++ {
			class := int32(ci)
			withIn := withInClass[ci]
			withNotIn := totalWithWord - withIn
			withoutIn := classTotals[ci] - withIn
			withoutNotIn := totalDocs - classTotals[ci] - withNotIn
			perClass[class] = Contingency{
				WithWordInClass:       withIn,
				WithWordNotInClass:    withNotIn,
				WithoutWordInClass:    withoutIn,
				WithoutWordNotInClass: withoutNotIn,
			}
		}
		out[term] = perClass
	}
	return out
}

// InfoGain computes the information gain of a word over the whole
// class distribution: H(C) - H(C|presence of word). Combines per-class
// contingencies for one term into this single class-agnostic score
// (the per-class component, below, is used by foil gain and odds
// ratio, which are inherently per-class measures).
func InfoGain(perClass map[int32]Contingency) float64 {
	if len(perClass) == 0 {
		return 0
	}
	var withCounts, withoutCounts []float64
	var classCounts []float64
	var total float64
	for _, c := range perClass {
		withCounts = append(withCounts, c.WithWordInClass)
		withoutCounts = append(withoutCounts, c.WithoutWordInClass)
		classCounts = append(classCounts, c.WithWordInClass+c.WithoutWordInClass)
		total += c.WithWordInClass + c.WithoutWordInClass
	}
	if total == 0 {
		return 0
	}
	hc := entropy(classCounts...)

	totalWith, totalWithout := 0.0, 0.0
	for i := range withCounts {
		totalWith += withCounts[i]
		totalWithout += withoutCounts[i]
	}

	hcGivenWith := entropy(withCounts...)
	hcGivenWithout := entropy(withoutCounts...)

	conditional := 0.0
	if total > 0 {
		conditional = (totalWith/total)*hcGivenWith + (totalWithout/total)*hcGivenWithout
	}
	return hc - conditional
}

// FoilGain scores a term's discriminative value for one specific
// class: `pr_wi_c * log(pr_wi_c / pr_wi_not_c)`, where pr_wi_c is
// P(word | class) and pr_wi_not_c is P(word | not class). A term seen
// in the class but never outside it scores +Inf; a term never seen in
// the class scores 0.
func FoilGain(c Contingency) float64 {
	inClassTotal := c.WithWordInClass + c.WithoutWordInClass
	notClassTotal := c.WithWordNotInClass + c.WithoutWordNotInClass
	if inClassTotal == 0 || notClassTotal == 0 {
		return 0
	}
	prWiC := c.WithWordInClass / inClassTotal
	prWiNotC := c.WithWordNotInClass / notClassTotal
	if prWiC <= 0 {
		return 0
	}
	return prWiC * math.Log(prWiC/prWiNotC)
}

// OddsRatio scores a term's class-association strength as
// log((a·d)/(b·c)) over the 2x2 table, the standard odds-ratio
// feature-selection statistic. Cells are Laplace-smoothed by 0.5 to
// avoid division by zero on sparse terms.
func OddsRatio(c Contingency) float64 {
	a := c.WithWordInClass + 0.5
	b := c.WithWordNotInClass + 0.5
	cc := c.WithoutWordInClass + 0.5
	d := c.WithoutWordNotInClass + 0.5
	return math.Log((a * d) / (b * cc))
}

// PMIAssociation scores a term's association with the target class as
// the pointwise mutual information between term presence and class
// membership, read off the same 2x2 table the other statistics use.
func PMIAssociation(calc *pmi.Calculator, c Contingency) float64 {
	nWC := int64(c.WithWordInClass)
	nW := int64(c.WithWordInClass + c.WithWordNotInClass)
	nC := int64(c.WithWordInClass + c.WithoutWordInClass)
	return calc.FromCounts(nWC, nW, nC, int64(c.total()))
}

// Method selects a feature-selection statistic.
type Method int

const (
	InformationGain Method = iota
	Foil
	Odds
	// PMI scores a term by the pointwise mutual information between
	// term presence and membership in the target class.
	PMI
)

// TermScore pairs a term with its computed score, for Select's output
// and for ranking.
type TermScore struct {
	Term  dict.ID
	Score float64
}

// ScoreTerms computes a Method score per term over doc. For Foil,
// Odds, and PMI (inherently per-class statistics) the score against
// class targetClass is used; InfoGain ignores targetClass.
func ScoreTerms(doc *barrel.Barrel, method Method, targetClass int32) []TermScore {
	tables := BuildContingencyTables(doc)
	calc := pmi.NewCalculator(1.0)
	out := make([]TermScore, 0, len(tables))
	for term, perClass := range tables {
		var score float64
		switch method {
		case Foil:
			score = FoilGain(perClass[targetClass])
		case Odds:
			score = OddsRatio(perClass[targetClass])
		case PMI:
			score = PMIAssociation(calc, perClass[targetClass])
		default:
			score = InfoGain(perClass)
		}
		out = append(out, TermScore{Term: term, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// SelectTopNRewrite keeps only the top N terms by score, producing a
// fresh dictionary (via dict.KeepTopByScore) and the id-remap callers
// must use to translate any already-recorded WI2DVF or PV term ids.
func SelectTopNRewrite(d *dict.Dict, scores []TermScore, n int) (*dict.Dict, map[dict.ID]dict.ID) {
	byID := make([]float64, d.Size())
	for _, s := range scores {
		if int(s.Term) < len(byID) {
			byID[s.Term] = s.Score
		}
	}
	return d.KeepTopByScore(n, byID)
}

// HideBelowTopN hides (rather than discards) every WI2DVF entry whose
// term falls outside the top N scores, leaving the dictionary and
// term ids untouched. This is the non-destructive alternative to
// SelectTopNRewrite: scoring can be un-done by Unhide without
// rebuilding the barrel.
func HideBelowTopN(idx interface {
	Hide(dict.ID) error
}, scores []TermScore, n int) error {
	if n >= len(scores) {
		return nil
	}
	for _, s := range scores[n:] {
		if err := idx.Hide(s.Term); err != nil {
			return err
		}
	}
	return nil
}
