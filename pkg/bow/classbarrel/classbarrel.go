// Package classbarrel builds a vector-per-class barrel from a document
// barrel: one cdoc per class, aggregating the training documents'
// postings under a chosen event model, with class priors set from
// training document frequency.
package classbarrel

import (
	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/invindex"
)

// EventModel selects how document-level word counts are folded into
// per-class counts.
type EventModel int

const (
	// Word: each word occurrence is one event; class counts are raw
	// sums of word occurrence counts across the class's documents.
	Word EventModel = iota
	// Document: each document is one event, contributing 1 regardless
	// of its length; class word counts become document-frequency
	// counts rather than occurrence counts.
	Document
	// DocumentThenWord: documents are weighted by 1/|d| before their
	// word counts are summed, so long and short documents contribute
	// equally to the class vector.
	DocumentThenWord
)

// Build merges doc's Train-tagged documents into a fresh class barrel
// under model. Only documents with Tag == barrel.Train contribute;
// posterior-weighted contributions from the EM loop use BuildWeighted
// instead.
func Build(doc *barrel.Barrel, model EventModel) (*barrel.Barrel, error) {
	weights := make([]float64, len(doc.Docs))
	for i, cdoc := range doc.Docs {
		if cdoc.Tag == barrel.Train {
			weights[i] = 1.0
		}
	}
	return buildFromWeights(doc, model, perDocClassWeight(doc, weights))
}

// BuildWeighted merges doc's documents into a fresh class barrel where
// each document's contribution to class c is scaled by
// posterior[d][c]: `posterior(d,c) · count(w,d)` for the word model,
// `posterior(d,c) · count(w,d) / |d|` for document-then-word. This
// is the EM loop's M-step. Labeled documents should have posterior
// clamped to a one-hot vector by the caller before this is invoked.
func BuildWeighted(doc *barrel.Barrel, model EventModel, posterior [][]float64) (*barrel.Barrel, error) {
	return buildFromWeights(doc, model, posterior)
}

// perDocClassWeight turns a flat {0,1} training mask into the
// one-hot-per-document posterior shape BuildWeighted expects, so Build
// can share its implementation.
func perDocClassWeight(doc *barrel.Barrel, mask []float64) [][]float64 {
	posterior := make([][]float64, len(doc.Docs))
	for i, cdoc := range doc.Docs {
		if mask[i] == 0 {
			posterior[i] = nil
			continue
		}
		row := make([]float64, doc.ClassNames.NumClasses())
		if int(cdoc.Class) < len(row) {
			row[cdoc.Class] = mask[i]
		}
		posterior[i] = row
	}
	return posterior
}

func buildFromWeights(doc *barrel.Barrel, model EventModel, posterior [][]float64) (*barrel.Barrel, error) {
	numClasses := doc.ClassNames.NumClasses()
	out := &barrel.Barrel{
		Index:      invindex.New(1 << 14),
		ClassNames: doc.ClassNames,
		IsVPC:      true,
		BuildID:    barrel.NewBuildID(),
	}
	out.Docs = make([]barrel.CDoc, numClasses)
	for ci := range out.Docs {
		out.Docs[ci] = barrel.CDoc{Tag: barrel.Train, Class: int32(ci)}
	}

	classTotalMass := make([]float64, numClasses)
	classWordCount := make([]float64, numClasses)
	// aggregated[class][term] = accumulated weighted count
	aggregated := make([]map[dict.ID]float64, numClasses)
	for i := range aggregated {
		aggregated[i] = make(map[dict.ID]float64)
	}

	for di, row := range posterior {
		if row == nil {
			continue
		}
		cdoc := doc.Docs[di]
		docLen := float64(cdoc.WordCount)
		for ci, mass := range row {
			if mass == 0 {
				continue
			}
			classTotalMass[ci] += mass
			vec, err := termsForDoc(doc, int64(di))
			if err != nil {
				return nil, err
			}
			for term, count := range vec {
				weighted := eventWeight(model, mass, count, docLen)
				aggregated[ci][term] += weighted
				classWordCount[ci] += weighted
			}
		}
	}

	totalMass := 0.0
	for _, m := range classTotalMass {
		totalMass += m
	}

	for ci := range out.Docs {
		out.Docs[ci].WordCount = int64(classWordCount[ci])
		if totalMass > 0 {
			out.Docs[ci].Prior = classTotalMass[ci] / totalMass
		}
		for term, count := range aggregated[ci] {
			if count <= 0 {
				continue
			}
			if err := out.Index.Add(term, int64(ci), int64(count), 1.0); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func eventWeight(model EventModel, mass float64, count int64, docLen float64) float64 {
	switch model {
	case Document:
		if count > 0 {
			return mass
		}
		return 0
	case DocumentThenWord:
		if docLen <= 0 {
			return 0
		}
		return mass * float64(count) / docLen
	default: // Word
		return mass * float64(count)
	}
}

// termsForDoc reads di's posting list out of the document barrel's
// WI2DVF by scanning every interned term. This is the naive O(V)
// per-document approach; production-scale builds would instead keep a
// per-document term list built alongside indexing. The document-vector
// decode path stays lazy and cached regardless, via invindex.Index's
// LRU.
func termsForDoc(doc *barrel.Barrel, di int64) (map[dict.ID]int64, error) {
	out := make(map[dict.ID]int64)
	for _, term := range doc.Index.PresentTerms() {
		e, ok, err := doc.Index.Entry(term, di)
		if err != nil {
			return nil, err
		}
		if ok {
			out[term] = e.Count
		}
	}
	return out, nil
}
