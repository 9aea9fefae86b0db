// Package barrel implements the document/class barrel: an
// ordered array of per-document metadata paired with an inverted index
// (WI2DVF), built either by walking a class-labeled directory tree or
// by reading a listing file.
package barrel

import (
	"bufio"
	"crypto/rand"
	"io/fs"
	mrand "math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/bow/pkg/bow/bowerr"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/invindex"
	"github.com/cognicore/bow/pkg/bow/lexer"
	"github.com/cognicore/bow/pkg/bow/posting"
	"github.com/cognicore/bow/pkg/bow/session"
)

// buildEntropy backs every Barrel's BuildID: a single monotonic source
// shared across barrels so build ids stay ordered even when several
// barrels are constructed within the same millisecond.
var buildEntropy = ulid.Monotonic(rand.Reader, 0)

// Tag is a document's role in the split/tag engine (C5).
type Tag int

const (
	Untagged Tag = iota
	Train
	Test
	Unlabeled
	Validation
	Ignore
	Pool
	Waiting
)

func (t Tag) String() string {
	switch t {
	case Train:
		return "train"
	case Test:
		return "test"
	case Unlabeled:
		return "unlabeled"
	case Validation:
		return "validation"
	case Ignore:
		return "ignore"
	case Pool:
		return "pool"
	case Waiting:
		return "waiting"
	default:
		return "untagged"
	}
}

// CDoc is one document (or, in a class barrel, one class) entry.
type CDoc struct {
	Tag        Tag
	Class      int32
	WordCount  int64
	Filename   string
	Normalizer float64
	Prior      float64
	// Posterior holds the soft class distribution the EM loop (C11)
	// maintains for Unlabeled documents; nil for every other tag. A
	// labeled document's target lives only in Class — see
	// HardLabelDistribution — so EM can never overwrite it.
	Posterior []float64
}

// HardLabelDistribution returns the one-hot distribution over Class, a
// labeled document's fixed target. Built fresh on every call, so no
// caller can mutate a stored copy the way a shared posterior slice
// could be.
func (c *CDoc) HardLabelDistribution(numClasses int) []float64 {
	row := make([]float64, numClasses)
	if int(c.Class) >= 0 && int(c.Class) < numClasses {
		row[c.Class] = 1.0
	}
	return row
}

// ClassNames is a bijection between class name strings and dense class
// ids, mirroring the dictionary's intern/lookup shape at much smaller
// scale: a class barrel's cdocs[ci].class == ci invariant keys off the
// same ids this type hands out.
type ClassNames struct {
	names []string
	ids   map[string]int32
}

// NewClassNames creates an empty class-name bijection.
func NewClassNames() *ClassNames {
	return &ClassNames{ids: make(map[string]int32)}
}

// Intern returns name's class id, allocating a new one if absent.
func (c *ClassNames) Intern(name string) int32 {
	if id, ok := c.ids[name]; ok {
		return id
	}
	id := int32(len(c.names))
	c.names = append(c.names, name)
	c.ids[name] = id
	return id
}

// Lookup returns name's class id without allocating.
func (c *ClassNames) Lookup(name string) (int32, bool) {
	id, ok := c.ids[name]
	return id, ok
}

// Name returns the class name for id.
func (c *ClassNames) Name(id int32) (string, bool) {
	if id < 0 || int(id) >= len(c.names) {
		return "", false
	}
	return c.names[id], true
}

// NumClasses reports how many distinct classes have been interned.
func (c *ClassNames) NumClasses() int { return len(c.names) }

// Barrel pairs an ordered CDoc array with a WI2DVF inverted index. A
// document barrel has one entry per document; a class barrel (IsVPC)
// has one entry per class with cdocs[ci].class == ci.
type Barrel struct {
	Docs       []CDoc
	Index      *invindex.Index
	ClassNames *ClassNames
	IsVPC      bool

	// BuildID stamps this in-memory barrel with the build that produced
	// it, so diagnostics and logs can trace a barrel back to the run
	// that built it. Not part of the on-disk wi2pv format.
	BuildID ulid.ULID

	// PVs, when non-nil, receives one (di, position) posting per kept
	// token during file-driven ingestion, building the raw position
	// streams phrase queries read. PVStore backs watermark-triggered
	// flushes; both are wired by the indexing front end and are not
	// part of the wi2pv format (datadir persists them separately).
	PVs     *posting.Set
	PVStore posting.Store
}

// NewBuildID mints a fresh, monotonically-ordered build stamp for
// callers that construct a Barrel by struct literal instead of New
// (classbarrel.Build does this, since it fills in Docs/ClassNames
// itself rather than starting from an empty barrel).
func NewBuildID() ulid.ULID {
	return ulid.MustNew(ulid.Now(), buildEntropy)
}

// New creates an empty barrel. isVPC selects class-barrel semantics
// for callers that build class barrels directly (C6 normally does
// this via classbarrel.Build, but tests and VPC-only tools may want a
// bare constructor).
func New(isVPC bool) *Barrel {
	return &Barrel{
		Index:      invindex.New(1 << 16),
		ClassNames: NewClassNames(),
		IsVPC:      isVPC,
		BuildID:    ulid.MustNew(ulid.Now(), buildEntropy),
	}
}

// WVEntry is one (term, count) pair produced by lexing a document,
// prior to any scorer-specific weighting.
type WVEntry struct {
	Term  dict.ID
	Count int64
}

// AddDocument appends cdoc to the barrel and records wv's postings
// into the WI2DVF, returning the new document's index di.
func (b *Barrel) AddDocument(cdoc CDoc, wv []WVEntry) (int64, error) {
	di := int64(len(b.Docs))
	var wordCount int64
	for _, e := range wv {
		if err := b.Index.Add(e.Term, di, e.Count, 1.0); err != nil {
			return 0, err
		}
		wordCount += e.Count
	}
	cdoc.WordCount = wordCount
	b.Docs = append(b.Docs, cdoc)
	return di, nil
}

// BuildOptions configures filesystem and list-file ingestion.
type BuildOptions struct {
	// ExceptName, if non-empty, is a path that is skipped (used when
	// re-indexing a directory that also holds an output file).
	ExceptName string
	// IsTextFile overrides the default "is this file readable text"
	// heuristic. When nil, any file containing a NUL byte is treated as
	// binary and skipped.
	IsTextFile func([]byte) bool
}

func defaultIsTextFile(data []byte) bool {
	for _, b := range data {
		if b == 0 {
			return false
		}
	}
	return true
}

// AddFromTextDir walks root, treating each immediate subdirectory as a
// class name, recursively indexing every regular file beneath it.
// Duplicate pathnames across the whole barrel are a fatal error.
func (b *Barrel) AddFromTextDir(root string, lex lexer.Lexer, d *dict.Dict, sess *session.Session, opts BuildOptions) (int, error) {
	isText := opts.IsTextFile
	if isText == nil {
		isText = defaultIsTextFile
	}
	seen := make(map[string]struct{}, len(b.Docs))
	for _, cdoc := range b.Docs {
		seen[cdoc.Filename] = struct{}{}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, classEntry := range entries {
		if !classEntry.IsDir() {
			continue
		}
		className := classEntry.Name()
		class := b.ClassNames.Intern(className)
		classDir := filepath.Join(root, className)

		err := filepath.WalkDir(classDir, func(path string, de fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if de.IsDir() {
				return nil
			}
			if opts.ExceptName != "" && path == opts.ExceptName {
				return nil
			}
			if _, dup := seen[path]; dup {
				return bowerr.ErrDuplicatePath
			}
			data, err := os.ReadFile(path)
			if err != nil {
				sess.Logf("bow: couldn't open %q for reading: %v", path, err)
				return nil
			}
			if !isText(data) {
				sess.Logf("bow: skipping %q, not text", path)
				return nil
			}
			wv, postings := lexDocument(lex, d, string(data))
			di, err := b.AddDocument(CDoc{
				Tag:        Train,
				Class:      class,
				Filename:   path,
				Normalizer: 1.0,
				Prior:      1.0,
			}, wv)
			if err != nil {
				return err
			}
			if err := b.recordPostings(di, postings, sess); err != nil {
				return err
			}
			seen[path] = struct{}{}
			count++
			return nil
		})
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

// AddFromListFile reads a whitespace-delimited listing file, one
// document per line: `path class1 [class2 ...]`. A document naming
// more than one class has its primary class chosen uniformly at random
// from the listed classes, to seed test/train splitting; rng, if nil,
// is a fresh source seeded with 1.
func (b *Barrel) AddFromListFile(path string, lex lexer.Lexer, d *dict.Dict, sess *session.Session, rng *mrand.Rand) (int, error) {
	if rng == nil {
		rng = mrand.New(mrand.NewSource(1))
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	seen := make(map[string]struct{}, len(b.Docs))
	for _, cdoc := range b.Docs {
		seen[cdoc.Filename] = struct{}{}
	}

	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		docPath := fields[0]
		classNames := fields[1:]
		if len(classNames) == 0 {
			continue
		}
		if _, dup := seen[docPath]; dup {
			return count, bowerr.ErrDuplicatePath
		}
		data, err := os.ReadFile(docPath)
		if err != nil {
			sess.Logf("bow: couldn't open %q for reading: %v", docPath, err)
			continue
		}
		primary := classNames[rng.Intn(len(classNames))]
		class := b.ClassNames.Intern(primary)
		for _, cn := range classNames {
			b.ClassNames.Intern(cn)
		}
		wv, postings := lexDocument(lex, d, string(data))
		di, err := b.AddDocument(CDoc{
			Tag:        Train,
			Class:      class,
			Filename:   docPath,
			Normalizer: 1.0,
			Prior:      1.0,
		}, wv)
		if err != nil {
			return count, err
		}
		if err := b.recordPostings(di, postings, sess); err != nil {
			return count, err
		}
		seen[docPath] = struct{}{}
		count++
	}
	if err := sc.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// AddOne indexes a single file as one document of class className,
// appending it to the barrel. Used by the query server's `;INDEX
// <path>` command, which adds one path at a time rather than walking a
// directory tree. Duplicate paths are rejected the same way
// AddFromTextDir rejects them.
func (b *Barrel) AddOne(path, className string, lex lexer.Lexer, d *dict.Dict, sess *session.Session) (int64, error) {
	for _, cdoc := range b.Docs {
		if cdoc.Filename == path {
			return 0, bowerr.ErrDuplicatePath
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	class := b.ClassNames.Intern(className)
	wv, postings := lexDocument(lex, d, string(data))
	di, err := b.AddDocument(CDoc{
		Tag:        Train,
		Class:      class,
		Filename:   path,
		Normalizer: 1.0,
		Prior:      1.0,
	}, wv)
	if err != nil {
		return 0, err
	}
	return di, b.recordPostings(di, postings, sess)
}

// DeleteByFilename soft-deletes the document with the given filename by
// setting its WordCount to -1, the sentinel queryengine.Execute already
// filters candidate hits against. Reports whether a matching document
// was found.
func (b *Barrel) DeleteByFilename(path string) bool {
	for i := range b.Docs {
		if b.Docs[i].Filename == path {
			b.Docs[i].WordCount = -1
			return true
		}
	}
	return false
}

// tokenPosting is one kept token's (interned id, document position),
// carried from the lexer to the PV set alongside the aggregated WV.
type tokenPosting struct {
	id  dict.ID
	pos int64
}

func lexDocument(lex lexer.Lexer, d *dict.Dict, text string) ([]WVEntry, []tokenPosting) {
	tokens := lex.Lex(text)
	counts := make(map[dict.ID]int64, len(tokens))
	order := make([]dict.ID, 0, len(tokens))
	postings := make([]tokenPosting, 0, len(tokens))
	for _, tok := range tokens {
		id := d.Intern(tok.Term)
		if id == dict.AbsentID {
			continue
		}
		d.RecordOccurrence(id)
		if _, ok := counts[id]; !ok {
			order = append(order, id)
		}
		counts[id]++
		postings = append(postings, tokenPosting{id: id, pos: int64(tok.Position)})
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	wv := make([]WVEntry, len(order))
	for i, id := range order {
		wv[i] = WVEntry{Term: id, Count: counts[id]}
	}
	return wv, postings
}

// LexWV lexes text into a sorted word vector against d. Against a
// frozen dictionary unseen terms are dropped, which is what query-time
// and classify-time callers want.
func LexWV(lex lexer.Lexer, d *dict.Dict, text string) []WVEntry {
	wv, _ := lexDocument(lex, d, text)
	return wv
}

// recordPostings streams a freshly-added document's token postings into
// the barrel's PV set, if one is attached.
func (b *Barrel) recordPostings(di int64, postings []tokenPosting, sess *session.Session) error {
	if b.PVs == nil {
		return nil
	}
	for _, tp := range postings {
		if err := b.PVs.Add(tp.id, di, tp.pos, b.PVStore, sess); err != nil {
			return err
		}
	}
	return nil
}

// PruneByOccurrence performs the two-pass prune-by-occurrence-count
// construction mode: callers scan documents once to accumulate
// dictionary occurrence counts (via a first lexing pass),
// call PruneByOccurrence to produce a trimmed dictionary, then
// re-index using the returned remap to translate any already-recorded
// term ids. Terms occurring strictly fewer than minOccur times are
// dropped.
func PruneByOccurrence(d *dict.Dict, minOccur int64) (*dict.Dict, map[dict.ID]dict.ID) {
	return d.PruneBelow(minOccur)
}
