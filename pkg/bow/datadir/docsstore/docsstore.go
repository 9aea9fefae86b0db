// Package docsstore is an alternative backend for per-document
// retrieval metadata. The default backend is the flat `wi2pv` layout in
// pkg/bow/datadir; this package is opt-in, for callers that want
// per-document metadata queryable by filename or class without
// decoding the whole barrel. Uses the same WAL-mode, schema-on-open
// pattern as any embedded-sqlite-backed store.
package docsstore

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/cognicore/bow/pkg/bow/barrel"
)

// Store is a sqlite-backed per-document metadata index.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) a sqlite database at path with WAL
// mode enabled, and initializes its schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS docs (
	doc_id INTEGER PRIMARY KEY,
	filename TEXT UNIQUE NOT NULL,
	tag INTEGER NOT NULL,
	class INTEGER NOT NULL,
	word_count INTEGER NOT NULL,
	normalizer REAL NOT NULL,
	prior REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_docs_class ON docs(class);
CREATE INDEX IF NOT EXISTS idx_docs_tag ON docs(tag);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// UpsertDoc records or replaces one document's metadata, keyed by its
// position in the barrel (docID) and its filename.
func (s *Store) UpsertDoc(ctx context.Context, docID int64, cdoc barrel.CDoc) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO docs (doc_id, filename, tag, class, word_count, normalizer, prior)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(doc_id) DO UPDATE SET
	filename=excluded.filename,
	tag=excluded.tag,
	class=excluded.class,
	word_count=excluded.word_count,
	normalizer=excluded.normalizer,
	prior=excluded.prior;
`, docID, cdoc.Filename, int(cdoc.Tag), cdoc.Class, cdoc.WordCount, cdoc.Normalizer, cdoc.Prior)
	return err
}

// SaveBarrel upserts every document in b in one pass, keyed by its
// index position.
func (s *Store) SaveBarrel(ctx context.Context, b *barrel.Barrel) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO docs (doc_id, filename, tag, class, word_count, normalizer, prior)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(doc_id) DO UPDATE SET
	filename=excluded.filename,
	tag=excluded.tag,
	class=excluded.class,
	word_count=excluded.word_count,
	normalizer=excluded.normalizer,
	prior=excluded.prior;
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, cdoc := range b.Docs {
		if _, err := stmt.ExecContext(ctx, int64(i), cdoc.Filename, int(cdoc.Tag), cdoc.Class, cdoc.WordCount, cdoc.Normalizer, cdoc.Prior); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetDocByFilename looks up one document's metadata by filename.
func (s *Store) GetDocByFilename(ctx context.Context, filename string) (int64, barrel.CDoc, bool, error) {
	var (
		docID int64
		tag   int
		cdoc  barrel.CDoc
	)
	err := s.db.QueryRowContext(ctx, `
SELECT doc_id, filename, tag, class, word_count, normalizer, prior
FROM docs WHERE filename = ?;
`, filename).Scan(&docID, &cdoc.Filename, &tag, &cdoc.Class, &cdoc.WordCount, &cdoc.Normalizer, &cdoc.Prior)
	if err == sql.ErrNoRows {
		return 0, barrel.CDoc{}, false, nil
	}
	if err != nil {
		return 0, barrel.CDoc{}, false, err
	}
	cdoc.Tag = barrel.Tag(tag)
	return docID, cdoc, true, nil
}

// DocsByClass lists every document id tagged with the given class.
func (s *Store) DocsByClass(ctx context.Context, class int32) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc_id FROM docs WHERE class = ? ORDER BY doc_id;`, class)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
