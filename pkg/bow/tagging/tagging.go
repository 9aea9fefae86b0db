// Package tagging implements the split/tag engine: it
// assigns each document in a barrel exactly one role tag, applying
// rule kinds in a fixed order so that later rules only ever see
// documents earlier rules left untagged.
package tagging

import (
	"math/rand"
	"sort"

	"github.com/cognicore/bow/pkg/bow/barrel"
)

// RuleKind selects how a Rule picks its documents.
type RuleKind int

const (
	// RuleFileList assigns Tag to every document whose filename
	// appears in FileList.
	RuleFileList RuleKind = iota
	// RulePerClassCount assigns PerClassCount documents chosen
	// uniformly at random from each class's untagged pool.
	RulePerClassCount
	// RuleFancyCount assigns FancyCounts[className] documents chosen
	// uniformly at random from that class's untagged pool.
	RuleFancyCount
	// RuleFraction assigns a class-proportional share of either
	// Count or Fraction*(pool size) documents, floor-allocated per
	// class with the remainder distributed by largest fractional
	// part first. Proportions come from the full non-ignore pool
	// unless FromUntaggedPool is set.
	RuleFraction
	// RuleRemaining assigns every document still untagged.
	RuleRemaining
)

// Rule describes one tagging directive. FromTrainPool draws candidates
// from documents already tagged Train instead of from the untagged
// pool, and is always applied after every other rule kind (including
// RuleRemaining) so the train pool it draws from is fully populated
// first.
type Rule struct {
	Tag           barrel.Tag
	Kind          RuleKind
	FileList      []string
	PerClassCount int
	FancyCounts   map[string]int
	Count         int
	Fraction      float64
	FromTrainPool bool
	// FromUntaggedPool (the "r" suffix) makes a fraction rule take its
	// class proportions and target size from the currently-untagged
	// pool instead of the full non-ignore corpus, so earlier rules
	// that drained classes unevenly skew this rule's shares too.
	FromUntaggedPool bool
}

// Engine applies a set of Rules to a barrel's documents.
type Engine struct {
	Rng *rand.Rand
}

// New creates an Engine with a seeded RNG for reproducible splits.
func New(seed int64) *Engine {
	return &Engine{Rng: rand.New(rand.NewSource(seed))}
}

// Apply assigns tags to b.Docs following rules, grouped into fixed
// stages regardless of the input order: file-list, per-class-count,
// fancy-count, fraction, remaining, then any FromTrainPool ("t"
// suffix) rule of any kind, applied last against the now-final Train
// pool.
func (e *Engine) Apply(b *barrel.Barrel, rules []Rule) error {
	var normal, trainPool []Rule
	for _, r := range rules {
		if r.FromTrainPool {
			trainPool = append(trainPool, r)
		} else {
			normal = append(normal, r)
		}
	}

	for _, kind := range []RuleKind{RuleFileList, RulePerClassCount, RuleFancyCount, RuleFraction, RuleRemaining} {
		for _, r := range normal {
			if r.Kind != kind {
				continue
			}
			e.applyOne(b, r, b.Docs, func(cdoc barrel.CDoc) bool {
				return cdoc.Tag == barrel.Untagged
			})
		}
	}

	for _, r := range trainPool {
		e.applyOne(b, r, b.Docs, func(cdoc barrel.CDoc) bool {
			return cdoc.Tag == barrel.Train
		})
	}

	return nil
}

func (e *Engine) applyOne(b *barrel.Barrel, r Rule, docs []barrel.CDoc, eligible func(barrel.CDoc) bool) {
	switch r.Kind {
	case RuleFileList:
		want := make(map[string]struct{}, len(r.FileList))
		for _, f := range r.FileList {
			want[f] = struct{}{}
		}
		for i := range docs {
			if !eligible(docs[i]) {
				continue
			}
			if _, ok := want[docs[i].Filename]; ok {
				docs[i].Tag = r.Tag
			}
		}

	case RulePerClassCount:
		byClass := poolByClass(docs, eligible)
		for _, idxs := range byClass {
			e.pickN(docs, idxs, r.PerClassCount, r.Tag)
		}

	case RuleFancyCount:
		byClass := poolByClass(docs, eligible)
		for className, n := range r.FancyCounts {
			id, ok := b.ClassNames.Lookup(className)
			if !ok {
				continue
			}
			e.pickN(docs, byClass[id], n, r.Tag)
		}

	case RuleFraction:
		byClass := poolByClass(docs, eligible)
		// Proportions are taken from the static non-ignore pool, so a
		// fraction rule sees each class's true corpus share even after
		// earlier rules drained some classes; the "r" suffix
		// (FromUntaggedPool) opts into the shrinking untagged pool
		// instead. FromTrainPool rules always size against their own
		// train pool.
		basis := byClass
		if !r.FromUntaggedPool && !r.FromTrainPool {
			basis = poolByClass(docs, func(cdoc barrel.CDoc) bool {
				return cdoc.Tag != barrel.Ignore
			})
		}
		total := 0
		for _, idxs := range basis {
			total += len(idxs)
		}
		if total == 0 {
			return
		}
		target := r.Count
		if r.Fraction > 0 {
			target = int(r.Fraction * float64(total))
		}
		allocation := proportionalAllocate(basis, target)
		for class, n := range allocation {
			e.pickN(docs, byClass[class], n, r.Tag)
		}

	case RuleRemaining:
		for i := range docs {
			if eligible(docs[i]) {
				docs[i].Tag = r.Tag
			}
		}
	}
}

// pickN assigns tag to n documents chosen uniformly at random (without
// replacement) from idxs, which indexes into docs. n is clamped to
// len(idxs).
func (e *Engine) pickN(docs []barrel.CDoc, idxs []int, n int, tag barrel.Tag) {
	if n <= 0 || len(idxs) == 0 {
		return
	}
	if n > len(idxs) {
		n = len(idxs)
	}
	shuffled := make([]int, len(idxs))
	copy(shuffled, idxs)
	e.Rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	for _, i := range shuffled[:n] {
		docs[i].Tag = tag
	}
}

func poolByClass(docs []barrel.CDoc, eligible func(barrel.CDoc) bool) map[int32][]int {
	byClass := make(map[int32][]int)
	for i, cdoc := range docs {
		if eligible(cdoc) {
			byClass[cdoc.Class] = append(byClass[cdoc.Class], i)
		}
	}
	return byClass
}

// proportionalAllocate distributes target documents across classes in
// proportion to their pool sizes: each class gets floor(share), and
// the remainder (target minus the sum of floors) is handed out one at
// a time to the classes with the largest fractional remainder first
// (the largest-remainder method), guaranteeing the allocation sums to
// exactly min(target, total pool size).
func proportionalAllocate(byClass map[int32][]int, target int) map[int32]int {
	total := 0
	for _, idxs := range byClass {
		total += len(idxs)
	}
	if target > total {
		target = total
	}
	allocation := make(map[int32]int, len(byClass))
	type remainder struct {
		class int32
		frac  float64
	}
	var remainders []remainder
	allocated := 0
	for class, idxs := range byClass {
		share := float64(len(idxs)) / float64(total) * float64(target)
		floor := int(share)
		if floor > len(idxs) {
			floor = len(idxs)
		}
		allocation[class] = floor
		allocated += floor
		remainders = append(remainders, remainder{class, share - float64(floor)})
	}
	sort.Slice(remainders, func(i, j int) bool { return remainders[i].frac > remainders[j].frac })
	need := target - allocated
	for i := 0; i < len(remainders) && need > 0; i++ {
		class := remainders[i].class
		if allocation[class] < len(byClass[class]) {
			allocation[class]++
			need--
		}
	}
	return allocation
}
