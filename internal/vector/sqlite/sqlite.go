// Package sqlite implements vector.Index in a single SQLite file. Search is a
// brute-force cosine scan, which is adequate for a single repository.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/efebarandurmaz/whetstone/internal/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	file_path  TEXT NOT NULL,
	unit_type  TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	language   TEXT NOT NULL DEFAULT '',
	repo       TEXT NOT NULL DEFAULT '',
	line_start INTEGER NOT NULL DEFAULT 0,
	line_end   INTEGER NOT NULL DEFAULT 0,
	document   BLOB NOT NULL,
	embedding  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_repo ON documents(repo);
CREATE INDEX IF NOT EXISTS idx_documents_file_path ON documents(file_path);
`

const metadataColumns = "id, file_path, unit_type, name, language, repo, line_start, line_end"

// Index implements vector.Index on SQLite.
type Index struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize index schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Index{db: db, enc: enc, dec: dec}, nil
}

func (x *Index) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}
	dim, err := x.dimension(ctx)
	if err != nil {
		return err
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO documents
		(`+metadataColumns+`, document, embedding) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if dim == 0 {
			dim = len(d.Vector)
		}
		if len(d.Vector) != dim {
			return fmt.Errorf("%w: document %s has %d, index has %d", vector.ErrDimensionMismatch, d.ID, len(d.Vector), dim)
		}
		m := d.Metadata
		_, err := stmt.ExecContext(ctx,
			d.ID, m.FilePath, m.UnitType, m.Name, m.Language, m.Repo, m.LineStart, m.LineEnd,
			x.enc.EncodeAll([]byte(d.Content), nil), encodeVector(d.Vector),
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func (x *Index) Query(ctx context.Context, vec []float32, k int, filter *vector.Filter) (*vector.QueryResult, error) {
	where, args := whereClause(filter)
	rows, err := x.db.QueryContext(ctx,
		"SELECT "+metadataColumns+", embedding FROM documents"+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	type hit struct {
		id   string
		meta vector.Metadata
		dist float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		var blob []byte
		if err := scanMetadata(rows, &h.id, &h.meta, &blob); err != nil {
			return nil, err
		}
		h.dist = vector.CosineDistance(vec, decodeVector(blob))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	res := &vector.QueryResult{}
	for _, h := range hits {
		doc, err := x.document(ctx, h.id)
		if err != nil {
			return nil, err
		}
		res.IDs = append(res.IDs, h.id)
		res.Distances = append(res.Distances, h.dist)
		res.Documents = append(res.Documents, doc)
		res.Metadatas = append(res.Metadatas, h.meta)
	}
	return res, nil
}

func (x *Index) Get(ctx context.Context, filter *vector.Filter, limit int) (*vector.GetResult, error) {
	where, args := whereClause(filter)
	q := "SELECT " + metadataColumns + ", document FROM documents" + where + " ORDER BY rowid"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get from index: %w", err)
	}
	defer rows.Close()

	res := &vector.GetResult{}
	for rows.Next() {
		var id string
		var meta vector.Metadata
		var blob []byte
		if err := scanMetadata(rows, &id, &meta, &blob); err != nil {
			return nil, err
		}
		doc, err := x.dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", id, err)
		}
		res.IDs = append(res.IDs, id)
		res.Documents = append(res.Documents, string(doc))
		res.Metadatas = append(res.Metadatas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get from index: %w", err)
	}
	return res, nil
}

func (x *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (x *Index) Close() error {
	x.dec.Close()
	_ = x.enc.Close()
	return x.db.Close()
}

var _ vector.Index = (*Index)(nil)

func (x *Index) dimension(ctx context.Context) (int, error) {
	var n sql.NullInt64
	err := x.db.QueryRowContext(ctx, "SELECT length(embedding) / 4 FROM documents LIMIT 1").Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	return int(n.Int64), nil
}

func (x *Index) document(ctx context.Context, id string) (string, error) {
	var blob []byte
	if err := x.db.QueryRowContext(ctx, "SELECT document FROM documents WHERE id = ?", id).Scan(&blob); err != nil {
		return "", fmt.Errorf("load %s: %w", id, err)
	}
	doc, err := x.dec.DecodeAll(blob, nil)
	if err != nil {
		return "", fmt.Errorf("decompress %s: %w", id, err)
	}
	return string(doc), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(s scanner, id *string, m *vector.Metadata, extra *[]byte) error {
	err := s.Scan(id, &m.FilePath, &m.UnitType, &m.Name, &m.Language, &m.Repo, &m.LineStart, &m.LineEnd, extra)
	if err != nil {
		return fmt.Errorf("scan row: %w", err)
	}
	return nil
}

func whereClause(f *vector.Filter) (string, []any) {
	if f.IsZero() {
		return "", nil
	}
	var conds []string
	var args []any
	if f.Repo != "" {
		conds = append(conds, "repo = ?")
		args = append(args, f.Repo)
	}
	if f.FilePathContains != "" {
		conds = append(conds, "instr(file_path, ?) > 0")
		args = append(args, f.FilePathContains)
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
