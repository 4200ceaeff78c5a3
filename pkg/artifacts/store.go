// Package artifacts implements ArtifactStore: content-addressed local
// storage with SHA-256 identity and metadata.
//
// Grounded on core/pkg/artifacts/store.go's FileStore (atomic
// write-then-rename CAS blob store), generalized to also carry
// classification/tags/logical_role and to back its metadata index with
// modernc.org/sqlite instead of bare files-on-disk, per the pattern in
// core/pkg/store/receipt_store_sqlite.go.
package artifacts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/govcore/govcore/pkg/govcoreerr"
	"github.com/govcore/govcore/pkg/types"
)

// PutMetadata is the caller-supplied metadata accompanying new bytes.
type PutMetadata struct {
	ContentType    string
	Classification types.Classification
	Tags           []types.Tag
	LogicalRole    types.LogicalRole
}

// Store is the ArtifactStore contract.
type Store interface {
	Put(ctx context.Context, data []byte, meta PutMetadata) (*types.Artifact, error)
	Get(ctx context.Context, artifactID string) ([]byte, error)
	Meta(ctx context.Context, artifactID string) (*types.Artifact, error)
	Delete(ctx context.Context, artifactID string, requested types.DeletionMethod) (types.DeletionMethod, error)
}

// SQLiteStore is a filesystem CAS blob store with a SQLite metadata index.
type SQLiteStore struct {
	mu      sync.RWMutex
	baseDir string
	db      *sql.DB
}

// NewSQLiteStore creates the blob directory at baseDir if absent and
// migrates the metadata schema into the already-open database db.
func NewSQLiteStore(baseDir string, db *sql.DB) (*SQLiteStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure blob dir: %w", err)
	}
	s := &SQLiteStore{baseDir: baseDir, db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS artifacts (
		artifact_id TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		bytes INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		classification TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		logical_role TEXT NOT NULL,
		deleted_at TEXT,
		deletion_method TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_sha256 ON artifacts(sha256);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("artifacts: migrate: %w", err)
	}
	return nil
}

// Put computes the SHA-256 of data, assigns a stable content-addressed
// artifact_id, and persists bytes + metadata. Re-Put of identical bytes
// returns the existing artifact_id (idempotent), matching FileStore.Store's
// "already exists" short-circuit.
func (s *SQLiteStore) Put(ctx context.Context, data []byte, meta PutMetadata) (*types.Artifact, error) {
	sum := sha256.Sum256(data)
	hexHash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	var existingID string
	err := s.db.QueryRowContext(ctx, `SELECT artifact_id FROM artifacts WHERE sha256 = ? AND deleted_at IS NULL`, hexHash).Scan(&existingID)
	switch {
	case err == nil:
		return s.metaLocked(ctx, existingID)
	case err != sql.ErrNoRows:
		return nil, fmt.Errorf("artifacts: lookup by hash: %w", err)
	}

	artifactID := "a_" + uuid.New().String()
	path := s.blobPath(hexHash)
	if err := writeBlobAtomic(path, data); err != nil {
		return nil, err
	}

	tagsJSON, err := json.Marshal(meta.Tags)
	if err != nil {
		return nil, fmt.Errorf("artifacts: marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (artifact_id, sha256, bytes, content_type, classification, tags, logical_role)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifactID, hexHash, int64(len(data)), meta.ContentType, string(meta.Classification), string(tagsJSON), string(meta.LogicalRole))
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("artifacts: insert metadata: %w", err)
	}

	return s.metaLocked(ctx, artifactID)
}

// Get retrieves bytes by artifact_id and re-hashes them to the recorded
// sha256, enforcing the chain-of-custody invariant of
func (s *SQLiteStore) Get(ctx context.Context, artifactID string) ([]byte, error) {
	meta, err := s.Meta(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.blobPath(meta.SHA256))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, govcoreerr.New(govcoreerr.KindArtifactMissing, fmt.Errorf("%w: %s", govcoreerr.ErrArtifactNotFound, artifactID))
		}
		return nil, fmt.Errorf("artifacts: read blob: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != meta.SHA256 {
		return nil, govcoreerr.New(govcoreerr.KindArtifactMissing, fmt.Errorf("%w: artifact_id=%s", govcoreerr.ErrHashMismatch, artifactID))
	}
	return data, nil
}

// Meta returns recorded metadata for an artifact.
func (s *SQLiteStore) Meta(ctx context.Context, artifactID string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metaLocked(ctx, artifactID)
}

func (s *SQLiteStore) metaLocked(ctx context.Context, artifactID string) (*types.Artifact, error) {
	var (
		a       types.Artifact
		tagsRaw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, sha256, bytes, content_type, classification, tags, logical_role
		FROM artifacts WHERE artifact_id = ? AND deleted_at IS NULL`, artifactID).
		Scan(&a.ArtifactID, &a.SHA256, &a.Bytes, &a.ContentType, &a.Classification, &tagsRaw, &a.LogicalRole)
	if err == sql.ErrNoRows {
		return nil, govcoreerr.New(govcoreerr.KindArtifactMissing, fmt.Errorf("%w: %s", govcoreerr.ErrArtifactNotFound, artifactID))
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: query metadata: %w", err)
	}
	var tags []types.Tag
	if err := json.Unmarshal([]byte(tagsRaw), &tags); err != nil {
		return nil, fmt.Errorf("artifacts: unmarshal tags: %w", err)
	}
	a.Tags = tags
	return &a, nil
}

// Delete removes an artifact irrevocably using the requested method,
// recording which method was actually used. Overwrite is
// attempted on a best-effort basis; if the underlying filesystem refuses
// in-place writes before unlink, the actual method downgrades to
// fs_unsupported rather than silently reporting success as requested.
func (s *SQLiteStore) Delete(ctx context.Context, artifactID string, requested types.DeletionMethod) (types.DeletionMethod, error) {
	meta, err := s.Meta(ctx, artifactID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.blobPath(meta.SHA256)
	actual := requested

	if requested == types.DeletionOverwriteThenUnlink {
		if err := overwriteFile(path, meta.Bytes); err != nil {
			actual = types.DeletionFsUnsupported
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("artifacts: unlink blob: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE artifacts SET deleted_at = CURRENT_TIMESTAMP, deletion_method = ? WHERE artifact_id = ?`,
		string(actual), artifactID)
	if err != nil {
		return "", fmt.Errorf("artifacts: record deletion: %w", err)
	}
	return actual, nil
}

func (s *SQLiteStore) blobPath(hexHash string) string {
	return filepath.Join(s.baseDir, hexHash+".blob")
}

func writeBlobAtomic(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, content-addressed so bytes are identical
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return nil
}

func overwriteFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	zeros := make([]byte, 4096)
	var written int64
	for written < size {
		n := int64(len(zeros))
		if size-written < n {
			n = size - written
		}
		if _, err := f.WriteAt(zeros[:n], written); err != nil {
			return err
		}
		written += n
	}
	return f.Sync()
}

// ReadAllForTest is a small helper used by tests to read the raw blob
// bypassing metadata, so hash-mismatch scenarios can be simulated.
func ReadAllForTest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
