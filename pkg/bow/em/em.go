// Package em implements the EM semi-supervised loop:
// alternates rebuilding a class barrel from weighted document
// contributions (M-step) with relabeling unlabeled documents by
// running the multinomial Naive Bayes scorer against the fresh class
// barrel (E-step). A labeled document's contribution is a one-hot
// derived from its stored class on every round, so its target can
// never drift.
package em

import (
	"math"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/classbarrel"
	"github.com/cognicore/bow/pkg/bow/scorer"
	"github.com/cognicore/bow/pkg/bow/smoothing"
)

// Options configures the loop's termination and diagnostics.
type Options struct {
	MaxIterations int
	Model         classbarrel.EventModel
	Smoothing     smoothing.Method
	// ValidationTag, if non-zero, is evaluated each iteration for
	// diagnostic accuracy reporting against a held-out validation set.
	ValidationTag barrel.Tag
}

// IterationStat reports one M/E round's outcome.
type IterationStat struct {
	Iteration          int
	LogLikelihoodDelta float64
	ValidationAccuracy float64 // -1 if no validation tag configured
}

// Run performs up to opts.MaxIterations EM rounds over doc, mutating
// each Unlabeled document's Posterior in place. Labeled documents
// (Tag == Train) contribute a one-hot built from their Class field on
// every iteration — the loop never stores a distribution for them, so
// their target cannot drift; unlabeled documents start uniform and
// are relabeled by the E-step each round.
func Run(doc *barrel.Barrel, opts Options) ([]IterationStat, error) {
	numClasses := doc.ClassNames.NumClasses()
	initUnlabeled(doc, numClasses)

	var stats []IterationStat
	prevLL := negInf
	for iter := 0; iter < opts.MaxIterations; iter++ {
		posterior := snapshotPosterior(doc, numClasses)

		cb, err := classbarrel.BuildWeighted(doc, opts.Model, posterior)
		if err != nil {
			return stats, err
		}

		est := smoothing.New(opts.Smoothing, int64(doc.Index.NumVisible()))
		if err := est.Prepare(cb); err != nil {
			return stats, err
		}
		nb := &scorer.NaiveBayesMultinomial{Est: est, RawLog: true}

		ll := 0.0
		for di := range doc.Docs {
			if doc.Docs[di].Tag != barrel.Unlabeled {
				continue
			}
			query, err := documentQuery(doc, int64(di))
			if err != nil {
				return stats, err
			}
			ranked, err := nb.Score(cb, query, numClasses)
			if err != nil {
				return stats, err
			}
			row := make([]float64, numClasses)
			maxLog := negInf
			for _, r := range ranked {
				if r.Score > maxLog {
					maxLog = r.Score
				}
			}
			sum := 0.0
			raw := make(map[int32]float64, len(ranked))
			for _, r := range ranked {
				v := expShift(r.Score, maxLog)
				raw[r.Class] = v
				sum += v
			}
			for c := int32(0); c < int32(numClasses); c++ {
				if sum > 0 {
					row[c] = raw[c] / sum
				}
			}
			doc.Docs[di].Posterior = row
			ll += maxLog
		}

		stat := IterationStat{Iteration: iter, LogLikelihoodDelta: ll - prevLL, ValidationAccuracy: -1}
		if opts.ValidationTag != 0 {
			acc, err := validationAccuracy(doc, cb, est, opts.ValidationTag)
			if err != nil {
				return stats, err
			}
			stat.ValidationAccuracy = acc
		}
		stats = append(stats, stat)

		converged := iter > 0 && stat.LogLikelihoodDelta < convergenceEpsilon && stat.LogLikelihoodDelta > -convergenceEpsilon
		prevLL = ll
		if converged {
			break
		}
	}
	return stats, nil
}

const negInf = -1e308
const convergenceEpsilon = 1e-4

func expShift(logScore, maxLog float64) float64 {
	if maxLog <= negInf {
		return 0
	}
	return math.Exp(logScore - maxLog)
}

// initUnlabeled initializes every Unlabeled document's Posterior to
// uniform. Labeled documents get nothing: their contribution is
// derived from Class at snapshot time, never stored.
func initUnlabeled(doc *barrel.Barrel, numClasses int) {
	for i := range doc.Docs {
		if doc.Docs[i].Tag != barrel.Unlabeled {
			continue
		}
		row := make([]float64, numClasses)
		if numClasses > 0 {
			for c := range row {
				row[c] = 1.0 / float64(numClasses)
			}
		}
		doc.Docs[i].Posterior = row
	}
}

// snapshotPosterior builds the M-step's per-document distribution
// input: a fresh one-hot over Class for labeled documents (the hard
// target, re-derived every round) and the stored Posterior for
// unlabeled ones. Other tags contribute no mass.
func snapshotPosterior(doc *barrel.Barrel, numClasses int) [][]float64 {
	posterior := make([][]float64, len(doc.Docs))
	for i := range doc.Docs {
		switch doc.Docs[i].Tag {
		case barrel.Train:
			posterior[i] = doc.Docs[i].HardLabelDistribution(numClasses)
		case barrel.Unlabeled:
			posterior[i] = doc.Docs[i].Posterior
		}
	}
	return posterior
}

func documentQuery(doc *barrel.Barrel, di int64) ([]barrel.WVEntry, error) {
	var wv []barrel.WVEntry
	for _, term := range doc.Index.PresentTerms() {
		e, ok, err := doc.Index.Entry(term, di)
		if err != nil {
			return nil, err
		}
		if ok {
			wv = append(wv, barrel.WVEntry{Term: term, Count: e.Count})
		}
	}
	return wv, nil
}

func validationAccuracy(doc *barrel.Barrel, cb *barrel.Barrel, est *smoothing.Estimator, tag barrel.Tag) (float64, error) {
	nb := &scorer.NaiveBayesMultinomial{Est: est}
	correct, total := 0, 0
	for di, cdoc := range doc.Docs {
		if cdoc.Tag != tag {
			continue
		}
		query, err := documentQuery(doc, int64(di))
		if err != nil {
			return 0, err
		}
		ranked, err := nb.Score(cb, query, 1)
		if err != nil {
			return 0, err
		}
		total++
		if len(ranked) > 0 && ranked[0].Class == cdoc.Class {
			correct++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}

