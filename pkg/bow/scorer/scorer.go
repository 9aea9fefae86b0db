// Package scorer implements the vector-per-class scorer family: Naive
// Bayes (multinomial and Bernoulli), TF-IDF cosine, k-NN with
// SMART-triple weighting, PrInd, KL divergence, and Evidence. Every
// scorer conforms to the same contract: score(barrel, query, k) returns
// a descending top-k list of (class, score), operating in log-space
// internally and normalizing to sum to 1 unless a raw-score mode is
// requested.
package scorer

import (
	"math"
	"sort"
	"strings"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/pmi"
	"github.com/cognicore/bow/pkg/bow/smoothing"
)

// ClassScore is one ranked result.
type ClassScore struct {
	Class int32
	Score float64
}

// impossibleScore marks a class with no training data: a class barrel
// lacking training data for some class yields that class an impossible
// score, always excluded from normalization and from the ranked
// results.
var impossibleScore = math.Inf(-1)

// Scorer ranks classes for a query vector against a barrel (a class
// barrel for NB/TF-IDF/PrInd/KL/Evidence; k-NN instead takes the
// document barrel directly, since it needs per-document vectors, and
// reports the class of each of its k nearest documents).
type Scorer interface {
	Score(b *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error)
}

func topK(scores []ClassScore, k int) []ClassScore {
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > 0 && k < len(scores) {
		scores = scores[:k]
	}
	return scores
}

// rescaleAndNormalize implements the per-document rescaling rule: track
// the running minimum as log-scores accumulate (callers do this
// themselves per word; here we just do the final step), shift so the
// maximum among possible classes is -2, exponentiate, and normalize to
// sum to 1. Impossible classes are left out of the result, so they take
// no part in the normalizing sum or the ranking.
func rescaleAndNormalize(logScores map[int32]float64) []ClassScore {
	max := math.Inf(-1)
	for _, s := range logScores {
		if s != impossibleScore && s > max {
			max = s
		}
	}
	shift := -2 - max
	sum := 0.0
	exp := make(map[int32]float64, len(logScores))
	for c, s := range logScores {
		if s == impossibleScore {
			continue
		}
		v := math.Exp(s + shift)
		exp[c] = v
		sum += v
	}
	out := make([]ClassScore, 0, len(logScores))
	for c, v := range exp {
		score := 0.0
		if sum > 0 {
			score = v / sum
		}
		out = append(out, ClassScore{Class: c, Score: score})
	}
	return out
}

func queryMap(query []barrel.WVEntry) map[dict.ID]int64 {
	m := make(map[dict.ID]int64, len(query))
	for _, e := range query {
		m[e.Term] = e.Count
	}
	return m
}

// NaiveBayesMultinomial scores classes under the multinomial event
// model: log P(c|d) = log P(c) + Σ_w count_{w,d}·log P(w|c).
type NaiveBayesMultinomial struct {
	Est    *smoothing.Estimator
	RawLog bool // if true, skip normalization and return raw log-scores
}

func (s *NaiveBayesMultinomial) Score(cb *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error) {
	logScores := make(map[int32]float64, len(cb.Docs))
	for ci, cdoc := range cb.Docs {
		class := int32(ci)
		if cdoc.Prior <= 0 {
			logScores[class] = impossibleScore
			continue
		}
		total := math.Log(cdoc.Prior)
		for _, qe := range query {
			p, err := s.Est.Estimate(cb, qe.Term, class, smoothing.LeaveOneOut{})
			if err != nil {
				return nil, err
			}
			if p <= 0 {
				continue
			}
			total += float64(qe.Count) * math.Log(p)
		}
		logScores[class] = total
	}
	if s.RawLog {
		out := make([]ClassScore, 0, len(logScores))
		for c, v := range logScores {
			if v == impossibleScore {
				continue
			}
			out = append(out, ClassScore{Class: c, Score: v})
		}
		return topK(out, k), nil
	}
	return topK(rescaleAndNormalize(logScores), k), nil
}

// NaiveBayesBernoulli scores classes under the multivariate Bernoulli
// document event model: loop over the full vocabulary, using
// log(1-P(w|c)) for terms absent from the query and log P(w|c) for
// terms present.
type NaiveBayesBernoulli struct {
	Est    *smoothing.Estimator
	Vocab  []dict.ID
	RawLog bool
}

func (s *NaiveBayesBernoulli) Score(cb *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error) {
	present := queryMap(query)
	logScores := make(map[int32]float64, len(cb.Docs))
	for ci, cdoc := range cb.Docs {
		class := int32(ci)
		if cdoc.Prior <= 0 {
			logScores[class] = impossibleScore
			continue
		}
		total := math.Log(cdoc.Prior)
		for _, w := range s.Vocab {
			p, err := s.Est.Estimate(cb, w, class, smoothing.LeaveOneOut{})
			if err != nil {
				return nil, err
			}
			if _, inQuery := present[w]; inQuery {
				if p > 0 {
					total += math.Log(p)
				}
			} else if p < 1 {
				total += math.Log(1 - p)
			}
		}
		logScores[class] = total
	}
	if s.RawLog {
		out := make([]ClassScore, 0, len(logScores))
		for c, v := range logScores {
			if v == impossibleScore {
				continue
			}
			out = append(out, ClassScore{Class: c, Score: v})
		}
		return topK(out, k), nil
	}
	return topK(rescaleAndNormalize(logScores), k), nil
}

// TFIDFCosine scores classes (or documents, if given a document
// barrel) by cosine similarity between SMART-weighted vectors.
type TFIDFCosine struct {
	SMART string // e.g. "ltc.ltc"; defaults to "ntc.ntc" when empty
	IDF   map[dict.ID]float64
}

func (s *TFIDFCosine) Score(b *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error) {
	triple := s.SMART
	if triple == "" {
		triple = "ntc.ntc"
	}
	halves := strings.SplitN(triple, ".", 2)
	docTriple, queryTriple := halves[0], halves[0]
	if len(halves) == 2 {
		queryTriple = halves[1]
	}

	qVec := smartWeight(queryMap(query), s.IDF, len(b.Docs), queryTriple)

	results := make([]ClassScore, 0, len(b.Docs))
	for ci := range b.Docs {
		dv, err := documentVector(b, int64(ci))
		if err != nil {
			return nil, err
		}
		docVec := smartWeight(dv, s.IDF, len(b.Docs), docTriple)
		results = append(results, ClassScore{Class: int32(ci), Score: cosine(qVec, docVec)})
	}
	return topK(results, k), nil
}

func documentVector(b *barrel.Barrel, di int64) (map[dict.ID]int64, error) {
	out := make(map[dict.ID]int64)
	for _, term := range b.Index.PresentTerms() {
		e, ok, err := b.Index.Entry(term, di)
		if err != nil {
			return nil, err
		}
		if ok {
			out[term] = e.Count
		}
	}
	return out, nil
}

func smartWeight(counts map[dict.ID]int64, idf map[dict.ID]float64, numDocs int, triple string) map[dict.ID]float64 {
	tfCode, idfCode, normCode := byte('n'), byte('n'), byte('n')
	if len(triple) > 0 {
		tfCode = triple[0]
	}
	if len(triple) > 1 {
		idfCode = triple[1]
	}
	if len(triple) > 2 {
		normCode = triple[2]
	}

	maxTF := int64(0)
	for _, c := range counts {
		if c > maxTF {
			maxTF = c
		}
	}

	weights := make(map[dict.ID]float64, len(counts))
	for term, c := range counts {
		var tf float64
		switch tfCode {
		case 'b':
			if c > 0 {
				tf = 1
			}
		case 'm':
			if maxTF > 0 {
				tf = float64(c) / float64(maxTF)
			}
		case 'a':
			if maxTF > 0 {
				tf = 0.5 + 0.5*float64(c)/float64(maxTF)
			}
		case 'l':
			tf = math.Log(1 + float64(c))
		default: // 'n'
			tf = float64(c)
		}

		idfWeight := 1.0
		if idfCode == 't' {
			df := idf[term]
			if df > 0 && numDocs > 0 {
				idfWeight = math.Log(float64(numDocs) / df)
			}
		}
		weights[term] = tf * idfWeight
	}

	if normCode == 'c' {
		sumSq := 0.0
		for _, w := range weights {
			sumSq += w * w
		}
		if sumSq > 0 {
			norm := math.Sqrt(sumSq)
			for term := range weights {
				weights[term] /= norm
			}
		}
	}
	return weights
}

func cosine(a, b map[dict.ID]float64) float64 {
	var dot, normA, normB float64
	for term, wa := range a {
		normA += wa * wa
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b {
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / math.Sqrt(normA*normB)
}

// KNN ranks the k nearest documents in a document barrel by
// SMART-weighted cosine similarity and accumulates a per-class score
// as the sum of similarities of its documents among those k.
type KNN struct {
	SMART string
	IDF   map[dict.ID]float64
}

func (s *KNN) Score(docBarrel *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error) {
	tfidf := &TFIDFCosine{SMART: s.SMART, IDF: s.IDF}
	neighbors, err := tfidf.Score(docBarrel, query, 0) // score against every document, unranked-by-k
	if err != nil {
		return nil, err
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Score > neighbors[j].Score })
	limit := k
	if limit <= 0 || limit > len(neighbors) {
		limit = len(neighbors)
	}
	perClass := make(map[int32]float64)
	for _, n := range neighbors[:limit] {
		di := n.Class // TFIDFCosine.Score labels results by row index, which for a doc barrel is di
		if int(di) >= len(docBarrel.Docs) {
			continue
		}
		class := docBarrel.Docs[di].Class
		perClass[class] += n.Score
	}
	out := make([]ClassScore, 0, len(perClass))
	for c, score := range perClass {
		out = append(out, ClassScore{Class: c, Score: score})
	}
	return topK(out, k), nil
}

// PrInd weights (w,c) entries as P(w|c)/P(w) and scores a class as
// Σ_w weight·prior_c·q_weight, via the PMI identity
// log(P(w|c)/P(w)) = PMI(w,c).
type PrInd struct {
	Est        *smoothing.Estimator
	PW         map[dict.ID]float64 // P(w) marginal, precomputed corpus-wide
	Normalize  bool
	calculator *pmi.Calculator
}

func (s *PrInd) Score(cb *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error) {
	if s.calculator == nil {
		s.calculator = pmi.NewCalculator(1.0)
	}
	results := make([]ClassScore, 0, len(cb.Docs))
	for ci, cdoc := range cb.Docs {
		class := int32(ci)
		if cdoc.Prior <= 0 {
			continue
		}
		score := 0.0
		for _, qe := range query {
			pw := s.PW[qe.Term]
			if pw <= 0 {
				continue
			}
			pwc, err := s.Est.Estimate(cb, qe.Term, class, smoothing.LeaveOneOut{})
			if err != nil {
				return nil, err
			}
			weight := s.calculator.Weight(pwc, pw)
			score += weight * cdoc.Prior * float64(qe.Count)
		}
		results = append(results, ClassScore{Class: class, Score: score})
	}
	if s.Normalize {
		sum := 0.0
		for _, r := range results {
			sum += r.Score
		}
		if sum > 0 {
			for i := range results {
				results[i].Score /= sum
			}
		}
	}
	return topK(results, k), nil
}

// KLDivergence scores a class by the negative KL divergence between
// the query's empirical word distribution and the class's smoothed
// word distribution (lower divergence ranks higher, so the sign is
// flipped to fit the "higher is better" ranking contract every other
// scorer uses).
type KLDivergence struct {
	Est *smoothing.Estimator
}

func (s *KLDivergence) Score(cb *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error) {
	var total int64
	for _, qe := range query {
		total += qe.Count
	}
	if total == 0 {
		return nil, nil
	}
	results := make([]ClassScore, 0, len(cb.Docs))
	for ci, cdoc := range cb.Docs {
		class := int32(ci)
		if cdoc.Prior <= 0 {
			continue
		}
		kl := 0.0
		for _, qe := range query {
			pQuery := float64(qe.Count) / float64(total)
			pClass, err := s.Est.Estimate(cb, qe.Term, class, smoothing.LeaveOneOut{})
			if err != nil {
				return nil, err
			}
			if pClass <= 0 {
				continue
			}
			kl += pQuery * math.Log(pQuery/pClass)
		}
		results = append(results, ClassScore{Class: class, Score: -kl})
	}
	return topK(results, k), nil
}

// Evidence accumulates log-odds evidence per query term: for each
// term present, log(P(w|c) / (1-P(w|c))) weighted by its query count,
// summed with the class's log-prior-odds.
type Evidence struct {
	Est *smoothing.Estimator
}

func (s *Evidence) Score(cb *barrel.Barrel, query []barrel.WVEntry, k int) ([]ClassScore, error) {
	results := make([]ClassScore, 0, len(cb.Docs))
	for ci, cdoc := range cb.Docs {
		class := int32(ci)
		if cdoc.Prior <= 0 || cdoc.Prior >= 1 {
			continue
		}
		score := math.Log(cdoc.Prior / (1 - cdoc.Prior))
		for _, qe := range query {
			p, err := s.Est.Estimate(cb, qe.Term, class, smoothing.LeaveOneOut{})
			if err != nil {
				return nil, err
			}
			if p <= 0 || p >= 1 {
				continue
			}
			score += float64(qe.Count) * math.Log(p/(1-p))
		}
		results = append(results, ClassScore{Class: class, Score: score})
	}
	return topK(results, k), nil
}
