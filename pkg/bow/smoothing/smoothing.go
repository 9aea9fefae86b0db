// Package smoothing implements the smoothed probability core: for a
// (term, class) pair, derive P(w|c) from a class barrel's raw counts
// under one of six estimators (Laplace, m-estimate, Witten-Bell,
// Good-Turing, Dirichlet, and hierarchical shrinkage).
package smoothing

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/dict"
)

// Method selects an estimator.
type Method int

const (
	Laplace Method = iota
	MEstimate
	WittenBell
	GoodTuring
	Dirichlet
	Shrinkage
)

// LeaveOneOut carries the counts of one held-out document so Estimate
// can subtract its contribution before smoothing — the leave-one-out
// correction used during cross-validation and EM diagnostics.
type LeaveOneOut struct {
	Class       int32
	CountW      int64
	CountTotal  int64
	HasDocument bool
}

// MEstimateParams configures the m-estimate method.
type MEstimateParams struct {
	M   float64
	PW  float64 // P(w), the prior probability of the word; 1/V if zero
}

// Estimator computes P(w|c) for a class barrel under a fixed method
// and configuration. Construct with New; Prepare must be called once
// after the class barrel is finalized and before any Estimate call for
// methods that need corpus-wide statistics (Good-Turing, Shrinkage).
// Dirichlet takes its alphas from LoadDirichletAlphas instead.
type Estimator struct {
	Method    Method
	V         int64 // vocabulary size
	MEstimate MEstimateParams

	// Dirichlet alphas, by term id; DirichletSum is Σα.
	dirichletAlpha map[dict.ID]float64
	dirichletSum   float64

	// Good-Turing per-class discounted-count tables, keyed by class.
	gtTables map[int32]goodTuringTable
	gtK      int64

	// Shrinkage lambdas, one triple per class.
	shrinkLocal   map[int32]float64
	shrinkRoot    map[int32]float64
	shrinkUniform map[int32]float64
	globalCount   map[dict.ID]int64
	globalTotal   int64
}

// New creates an Estimator for the given method and vocabulary size.
func New(method Method, vocabSize int64) *Estimator {
	return &Estimator{Method: method, V: vocabSize, MEstimate: MEstimateParams{M: 1.0}}
}

// LoadDirichletAlphas parses an external `<alpha> <term>` file (one
// pair per line, whitespace-separated) into the estimator. Duplicate
// terms use the last value seen; a term absent from dict is counted
// but otherwise ignored.
func (e *Estimator) LoadDirichletAlphas(r io.Reader, d *dict.Dict) (ignored int, err error) {
	e.dirichletAlpha = make(map[dict.ID]float64)
	e.dirichletSum = 0
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		alpha, perr := strconv.ParseFloat(fields[0], 64)
		if perr != nil {
			continue
		}
		term := fields[1]
		id, ok := d.Lookup(term)
		if !ok {
			ignored++
			continue
		}
		if _, exists := e.dirichletAlpha[id]; exists {
			e.dirichletSum -= e.dirichletAlpha[id]
		}
		e.dirichletAlpha[id] = alpha
		e.dirichletSum += alpha
	}
	return ignored, sc.Err()
}

// Prepare computes corpus-wide statistics (Good-Turing frequency fit,
// shrinkage lambdas) from cb. Required before Estimate when Method is
// GoodTuring or Shrinkage; a no-op otherwise.
func (e *Estimator) Prepare(cb *barrel.Barrel) error {
	switch e.Method {
	case GoodTuring:
		return e.prepareGoodTuring(cb)
	case Shrinkage:
		return e.prepareShrinkage(cb)
	}
	return nil
}

// Estimate returns P(w|c) given the class's raw word count n_wc, the
// class's total word count n_c, and (where relevant) global
// statistics loo applies a leave-one-out subtraction when
// loo.HasDocument && loo.Class == class.
func (e *Estimator) Estimate(cb *barrel.Barrel, term dict.ID, class int32, loo LeaveOneOut) (float64, error) {
	nWC, nC, err := e.rawCounts(cb, term, class)
	if err != nil {
		return 0, err
	}
	if loo.HasDocument && loo.Class == class {
		nWC -= loo.CountW
		nC -= loo.CountTotal
		if nWC < 0 {
			nWC = 0
		}
		if nC < 0 {
			nC = 0
		}
	}

	switch e.Method {
	case Laplace:
		return (float64(nWC) + 1) / (float64(nC) + float64(e.V)), nil

	case MEstimate:
		pw := e.MEstimate.PW
		if pw == 0 {
			pw = 1.0 / float64(e.V)
		}
		m := e.MEstimate.M
		return (float64(nWC) + m*pw) / (float64(nC) + m), nil

	case WittenBell:
		tC, err := e.classVocabCount(cb, class)
		if err != nil {
			return 0, err
		}
		if nWC > 0 {
			return float64(nWC) / (float64(nC) + float64(tC)), nil
		}
		if e.V <= tC {
			return 0, nil
		}
		return float64(tC) / (float64(nC+tC) * float64(e.V-tC)), nil

	case GoodTuring:
		return e.estimateGoodTuring(cb, term, class, nWC, nC)

	case Dirichlet:
		alpha := e.dirichletAlpha[term]
		return (float64(nWC) + alpha) / (float64(nC) + e.dirichletSum), nil

	case Shrinkage:
		return e.estimateShrinkage(term, class, nWC, nC)
	}
	return 0, nil
}

func (e *Estimator) rawCounts(cb *barrel.Barrel, term dict.ID, class int32) (nWC, nC int64, err error) {
	entry, ok, err := cb.Index.Entry(term, int64(class))
	if err != nil {
		return 0, 0, err
	}
	if ok {
		nWC = entry.Count
	}
	if int(class) < len(cb.Docs) {
		nC = cb.Docs[class].WordCount
	}
	return nWC, nC, nil
}

// classVocabCount is T_c: the count of distinct terms observed in
// class c (Witten-Bell's "number of word types already seen").
func (e *Estimator) classVocabCount(cb *barrel.Barrel, class int32) (int64, error) {
	vec, ok, err := classVector(cb, class)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return int64(len(vec)), nil
}

// classVector collects every (term, count) posting belonging to
// class, scanning the class barrel's present terms. This mirrors
// classbarrel's own termsForDoc approach: the vocabulary-size document
// count here is small (one row per class) so an O(V) scan per class is
// cheap relative to an O(V) scan per document.
func classVector(cb *barrel.Barrel, class int32) ([]int64, bool, error) {
	var counts []int64
	for _, term := range cb.Index.PresentTerms() {
		e, ok, err := cb.Index.Entry(term, int64(class))
		if err != nil {
			return nil, false, err
		}
		if ok && e.Count > 0 {
			counts = append(counts, e.Count)
		}
	}
	return counts, len(counts) > 0, nil
}

// --- Good-Turing ---

type goodTuringTable struct {
	// discount[c] is the Good-Turing-adjusted count for raw count c,
	// for c in [1, k]. Counts above k are left unsmoothed.
	discount  map[int64]float64
	zeroMass  float64 // redistributed mass for zero-count words
	typesSeen int64   // T_c, used to spread zeroMass over V - T_c words
}

func (e *Estimator) prepareGoodTuring(cb *barrel.Barrel) error {
	if e.gtK == 0 {
		e.gtK = 5
	}
	e.gtTables = make(map[int32]goodTuringTable, len(cb.Docs))
	for ci := range cb.Docs {
		class := int32(ci)
		counts, _, err := classVector(cb, class)
		if err != nil {
			return err
		}
		e.gtTables[class] = fitSimpleGoodTuring(counts, e.gtK)
	}
	return nil
}

// fitSimpleGoodTuring builds a per-class discount table via the
// Simple Good-Turing procedure: count the frequency-of-frequencies
// N_r (how many terms occur exactly r times), fit log(N_r) vs log(r)
// by linear regression to smooth sparse high-r buckets, and discount
// each r <= k to r* = (r+1)·S(N_{r+1})/S(N_r) using the regression
// line S in place of raw N_r.
func fitSimpleGoodTuring(counts []int64, k int64) goodTuringTable {
	freqOfFreq := make(map[int64]int64)
	for _, c := range counts {
		freqOfFreq[c]++
	}
	if len(freqOfFreq) == 0 {
		return goodTuringTable{discount: map[int64]float64{}, typesSeen: int64(len(counts))}
	}

	var rs []int64
	for r := range freqOfFreq {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })

	// Fit log(N_r) = a + b*log(r) by least squares over the observed
	// (r, N_r) pairs; used to smooth N_{r+1} for buckets too sparse to
	// trust directly.
	var sumX, sumY, sumXY, sumXX float64
	n := float64(len(rs))
	for _, r := range rs {
		x := math.Log(float64(r))
		y := math.Log(float64(freqOfFreq[r]))
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	var a, b float64
	if n > 1 {
		b = (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
		a = (sumY - b*sumX) / n
	}
	smoothed := func(r int64) float64 {
		if n <= 1 {
			if nr, ok := freqOfFreq[r]; ok {
				return float64(nr)
			}
			return 0
		}
		return math.Exp(a + b*math.Log(float64(r)))
	}

	discount := make(map[int64]float64, k)
	for r := int64(1); r <= k; r++ {
		sr := smoothed(r)
		sr1 := smoothed(r + 1)
		if sr == 0 {
			discount[r] = float64(r)
			continue
		}
		discount[r] = float64(r+1) * sr1 / sr
	}

	n1 := float64(freqOfFreq[1])
	total := float64(len(counts))
	zeroMass := 0.0
	if total > 0 {
		zeroMass = n1 / total
	}

	return goodTuringTable{discount: discount, zeroMass: zeroMass, typesSeen: int64(len(counts))}
}

func (e *Estimator) estimateGoodTuring(cb *barrel.Barrel, term dict.ID, class int32, nWC, nC int64) (float64, error) {
	table, ok := e.gtTables[class]
	if !ok {
		if err := e.prepareGoodTuring(cb); err != nil {
			return 0, err
		}
		table = e.gtTables[class]
	}
	if nWC == 0 {
		denom := e.V - table.typesSeen
		if denom <= 0 {
			return 0, nil
		}
		return table.zeroMass / float64(denom), nil
	}
	if nWC <= e.gtK {
		if adj, ok := table.discount[nWC]; ok {
			return adj / float64(nC), nil
		}
	}
	return float64(nWC) / float64(nC), nil
}

// --- Shrinkage ---

func (e *Estimator) prepareShrinkage(cb *barrel.Barrel) error {
	e.globalCount = make(map[dict.ID]int64)
	e.globalTotal = 0
	for _, term := range cb.Index.PresentTerms() {
		vec, ok, err := cb.Index.Vector(term)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for _, dv := range vec {
			e.globalCount[term] += dv.Count
			e.globalTotal += dv.Count
		}
	}

	numClasses := len(cb.Docs)
	e.shrinkLocal = make(map[int32]float64, numClasses)
	e.shrinkRoot = make(map[int32]float64, numClasses)
	e.shrinkUniform = make(map[int32]float64, numClasses)

	for ci := range cb.Docs {
		class := int32(ci)
		counts, _, err := classVector(cb, class)
		if err != nil {
			return err
		}
		singletons := 0
		for _, c := range counts {
			if c == 1 {
				singletons++
			}
		}
		uniformFrac := 0.0
		if len(counts) > 0 {
			uniformFrac = float64(singletons) / float64(len(counts))
		}
		// Split the remaining mass 70/30 between local and root; more
		// rare words (high uniformFrac) push mass toward the uniform
		// and root distributions, since classes dominated by
		// singleton words need more backoff.
		remaining := 1 - uniformFrac
		e.shrinkUniform[class] = uniformFrac
		e.shrinkLocal[class] = remaining * 0.7
		e.shrinkRoot[class] = remaining * 0.3
	}
	return nil
}

func (e *Estimator) estimateShrinkage(term dict.ID, class int32, nWC, nC int64) (float64, error) {
	local := 0.0
	if nC > 0 {
		local = float64(nWC) / float64(nC)
	}
	root := 0.0
	if e.globalTotal > 0 {
		root = float64(e.globalCount[term]) / float64(e.globalTotal)
	}
	uniform := 1.0 / float64(e.V)

	return e.shrinkLocal[class]*local + e.shrinkRoot[class]*root + e.shrinkUniform[class]*uniform, nil
}
