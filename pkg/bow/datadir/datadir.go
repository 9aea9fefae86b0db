// Package datadir implements the on-disk data directory layout: a
// `vocabulary` file (the term dictionary), a `wi2pv` (or `barrel`) file
// (per-document metadata plus the WI2DVF), and a `pv` file holding the
// raw position-vector segments, located through the per-term offset
// table that SavePVTable writes. Save writes each file in place,
// truncating any existing file; it does not write temporary files and
// rename them, so a failed Save can leave a partially written
// directory behind.
package datadir

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/cognicore/bow/pkg/bow/barrel"
	"github.com/cognicore/bow/pkg/bow/bowerr"
	"github.com/cognicore/bow/pkg/bow/dict"
	"github.com/cognicore/bow/pkg/bow/invindex"
)

const (
	vocabularyFile = "vocabulary"
	barrelFile     = "wi2pv"
	pvFile         = "pv"

	formatVersion byte = 1
)

// Directory is an opened on-disk data directory: the term dictionary,
// the document (or class) barrel, and the shared PV file descriptor
// every posting.PV in the barrel's index reads and appends through.
type Directory struct {
	Path string
	Dict *dict.Dict
	PV   *os.File

	// PVTable maps each term to the offset of its first PV segment in
	// the pv file; nil when the directory was saved without postings.
	PVTable map[dict.ID]int64

	// barrel keeps the wi2pv file open for the lifetime of the opened
	// directory: the inverted index decodes document-vectors from it
	// lazily, well after Open returns.
	barrel *os.File
}

// Create makes a fresh, empty data directory at path. The CLI's default
// is `$HOME/.<program>`, overridable with `--data-dir`.
func Create(path string) error {
	return os.MkdirAll(path, 0o755)
}

// OpenPV opens (creating if needed) the shared PV file for read+append
// use as a posting.Store. All reads must seek before reading and all
// appends must seek to end first, so callers must not wrap this in a
// buffered reader/writer that could desynchronize the shared offset.
func OpenPV(path string) (*os.File, error) {
	return os.OpenFile(filepath.Join(path, pvFile), os.O_RDWR|os.O_CREATE, 0o644)
}

// Save writes a fresh data directory: the dictionary to `vocabulary`,
// the barrel's document array / class names / WI2DVF to `wi2pv`
// (method names the event model when b is a class barrel, empty for a
// document barrel). Callers that built raw position streams persist
// them separately with SavePVTable. Existing files at path are
// overwritten.
func Save(path string, d *dict.Dict, b *barrel.Barrel, methodName string) error {
	if err := Create(path); err != nil {
		return err
	}

	vf, err := os.Create(filepath.Join(path, vocabularyFile))
	if err != nil {
		return err
	}
	defer vf.Close()
	if _, err := d.WriteTo(vf); err != nil {
		return fmt.Errorf("datadir: writing vocabulary: %w", err)
	}

	bf, err := os.Create(filepath.Join(path, barrelFile))
	if err != nil {
		return err
	}
	defer bf.Close()
	if err := writeBarrel(bf, b, methodName); err != nil {
		return fmt.Errorf("datadir: writing %s: %w", barrelFile, err)
	}
	return nil
}

// Open loads a previously Save-d data directory: the dictionary, the
// barrel (document array, class names, and a lazily-decoding WI2DVF
// backed by the reopened wi2pv file), and the shared PV file descriptor
// for any further phrase lookups that need raw position streams.
func Open(path string) (*Directory, *barrel.Barrel, string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, "", bowerr.ErrDataDirMissing
	}

	vf, err := os.Open(filepath.Join(path, vocabularyFile))
	if err != nil {
		return nil, nil, "", fmt.Errorf("datadir: opening vocabulary: %w", err)
	}
	defer vf.Close()
	d, err := dict.ReadFrom(vf, false)
	if err != nil {
		return nil, nil, "", fmt.Errorf("datadir: reading vocabulary: %w", err)
	}

	bf, err := os.Open(filepath.Join(path, barrelFile))
	if err != nil {
		return nil, nil, "", fmt.Errorf("datadir: opening %s: %w", barrelFile, err)
	}
	b, methodName, err := readBarrel(bf)
	if err != nil {
		bf.Close()
		return nil, nil, "", fmt.Errorf("datadir: reading %s: %w", barrelFile, err)
	}

	pv, err := OpenPV(path)
	if err != nil {
		bf.Close()
		return nil, nil, "", fmt.Errorf("datadir: opening pv: %w", err)
	}

	table, err := loadPVTable(path)
	if err != nil {
		bf.Close()
		pv.Close()
		return nil, nil, "", fmt.Errorf("datadir: reading %s: %w", pvTableFile, err)
	}

	return &Directory{Path: path, Dict: d, PV: pv, PVTable: table, barrel: bf}, b, methodName, nil
}

// Close releases the shared PV file descriptor and the wi2pv handle
// the barrel's index lazily decodes from.
func (dir *Directory) Close() error {
	err := dir.PV.Close()
	if dir.barrel != nil {
		if berr := dir.barrel.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// writeBarrel serializes the leading format-version byte, the
// method-name string (empty for a document barrel), the CDoc array in
// field order (tag, normalizer, prior, word_count, filename, class),
// the class-name dictionary if present, then the WI2DVF.
func writeBarrel(w io.Writer, b *barrel.Barrel, methodName string) error {
	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(formatVersion); err != nil {
		return err
	}
	if err := writeString(bw, methodName); err != nil {
		return err
	}
	if err := writeInt32(bw, int32(len(b.Docs))); err != nil {
		return err
	}
	for _, cdoc := range b.Docs {
		if err := writeInt32(bw, int32(cdoc.Tag)); err != nil {
			return err
		}
		if err := writeFloat64(bw, cdoc.Normalizer); err != nil {
			return err
		}
		if err := writeFloat64(bw, cdoc.Prior); err != nil {
			return err
		}
		if err := writeInt64(bw, cdoc.WordCount); err != nil {
			return err
		}
		if err := writeString(bw, cdoc.Filename); err != nil {
			return err
		}
		if err := writeInt32(bw, cdoc.Class); err != nil {
			return err
		}
	}

	hasClassNames := b.ClassNames != nil
	if err := bw.WriteByte(boolByte(hasClassNames)); err != nil {
		return err
	}
	if hasClassNames {
		if err := writeInt32(bw, int32(b.ClassNames.NumClasses())); err != nil {
			return err
		}
		for i := 0; i < b.ClassNames.NumClasses(); i++ {
			name, _ := b.ClassNames.Name(int32(i))
			if err := writeString(bw, name); err != nil {
				return err
			}
		}
	}
	if err := bw.WriteByte(boolByte(b.IsVPC)); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if b.Index == nil {
		return writeInt32(w, 0)
	}
	_, err := b.Index.WriteTo(w)
	return err
}

func readBarrel(f *os.File) (*barrel.Barrel, string, error) {
	br := bufio.NewReader(f)
	version, err := br.ReadByte()
	if err != nil {
		return nil, "", err
	}
	if version != formatVersion {
		return nil, "", bowerr.ErrBadMagic
	}
	methodName, err := readString(br)
	if err != nil {
		return nil, "", err
	}
	n, err := readInt32(br)
	if err != nil {
		return nil, "", err
	}
	docs := make([]barrel.CDoc, n)
	for i := range docs {
		tag, err := readInt32(br)
		if err != nil {
			return nil, "", err
		}
		normalizer, err := readFloat64(br)
		if err != nil {
			return nil, "", err
		}
		prior, err := readFloat64(br)
		if err != nil {
			return nil, "", err
		}
		wordCount, err := readInt64(br)
		if err != nil {
			return nil, "", err
		}
		filename, err := readString(br)
		if err != nil {
			return nil, "", err
		}
		class, err := readInt32(br)
		if err != nil {
			return nil, "", err
		}
		docs[i] = barrel.CDoc{
			Tag:        barrel.Tag(tag),
			Normalizer: normalizer,
			Prior:      prior,
			WordCount:  wordCount,
			Filename:   filename,
			Class:      class,
		}
	}

	hasClassNamesByte, err := br.ReadByte()
	if err != nil {
		return nil, "", err
	}
	var classNames *barrel.ClassNames
	if hasClassNamesByte != 0 {
		classNames = barrel.NewClassNames()
		numClasses, err := readInt32(br)
		if err != nil {
			return nil, "", err
		}
		for i := int32(0); i < numClasses; i++ {
			name, err := readString(br)
			if err != nil {
				return nil, "", err
			}
			classNames.Intern(name)
		}
	}
	isVPCByte, err := br.ReadByte()
	if err != nil {
		return nil, "", err
	}

	// The WI2DVF uses random access for lazy per-term decode, and its
	// internal seek offsets are relative to the start of its own
	// section, so it must be read through a section reader rooted
	// there (not through br's buffer, which has already consumed bytes
	// past the header it buffered ahead).
	headerEnd, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, "", err
	}
	consumed := headerEnd - int64(br.Buffered())
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, "", err
	}
	idx, err := invindex.ReadFrom(io.NewSectionReader(f, consumed, size-consumed))
	if err != nil {
		return nil, "", err
	}

	b := &barrel.Barrel{Docs: docs, Index: idx, ClassNames: classNames, IsVPC: isVPCByte != 0}
	return b, methodName, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeString(w io.Writer, s string) error {
	if err := writeInt32(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readInt32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeInt32(w io.Writer, v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt32(r io.Reader) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func writeFloat64(w io.Writer, v float64) error {
	return writeInt64(w, int64(math.Float64bits(v)))
}

func readFloat64(r io.Reader) (float64, error) {
	v, err := readInt64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}
