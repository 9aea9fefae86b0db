// Package bowerr collects the sentinel errors shared across the index and
// classifier packages. The core never panics on caller-facing input; the
// error kinds below mirror the taxonomy a corrupted index or a malformed
// query can fall into.
package bowerr

import "errors"

// Format errors: corrupted header/magic, truncated segment, invalid
// variable-length integer. Fatal for the surrounding operation.
var (
	ErrBadMagic   = errors.New("bow: bad file magic")
	ErrTruncated  = errors.New("bow: truncated segment")
	ErrBadVarint  = errors.New("bow: invalid variable-length integer")
	ErrBadSegment = errors.New("bow: corrupted segment header")
)

// Invariant errors: program bugs. Returned rather than panicked so a
// caller holding an index open can decide whether to abort.
var (
	ErrOutOfOrder   = errors.New("bow: posting appended out of document order")
	ErrDoubleUnnext = errors.New("bow: unnext called twice without an intervening next")
	ErrNeverExisted = errors.New("bow: hide/unhide on a term with no postings")
)

// Lookup-miss: never fatal, but distinguishable from a present-but-empty
// result when a caller needs to tell the two apart.
var ErrUnknownTerm = errors.New("bow: term not in dictionary")

// Semantic: not a failure, just an empty outcome.
var ErrEmptyQuery = errors.New("bow: query contains no known terms")

// I/O and configuration.
var (
	ErrDataDirMissing = errors.New("bow: data directory does not exist")
	ErrDuplicatePath  = errors.New("bow: duplicate document path during index build")
	ErrNoClasses      = errors.New("bow: class barrel has no classes")
	ErrFrozen         = errors.New("bow: term dictionary is frozen against new terms")
)

// End-of-stream and capacity sentinels used by the position-vector read
// cursor and the phrase/boolean query engine.
var (
	ErrEndOfStream     = errors.New("bow: position-vector read cursor exhausted")
	ErrNotPresent      = errors.New("bow: term has no entry in the inverted index")
	ErrHidden          = errors.New("bow: term entry is hidden")
	ErrTooManyAtoms    = errors.New("bow: query exceeds the maximum atom count")
	ErrNoSuchClass     = errors.New("bow: class id out of range")
	ErrNoTrainingData  = errors.New("bow: class barrel has no training data for this class")
)
