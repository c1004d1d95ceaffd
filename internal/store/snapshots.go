package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/onnwee/scanara/internal/snapshot"
	"github.com/onnwee/scanara/internal/tracing"
)

// SnapshotRepository implements snapshot.Repository. Files are stored as
// one JSON document per snapshot.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a SnapshotRepository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Create(ctx context.Context, s *snapshot.Snapshot) error {
	files, err := json.Marshal(s.Files)
	if err != nil {
		return fmt.Errorf("encode snapshot files: %w", err)
	}
	_, err = r.db.exec(ctx, "snapshots", tracing.DBOperationInsert,
		`INSERT INTO snapshots (id, project_id, owner_id, source, origin, files, file_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.OwnerID, string(s.Source), s.Origin, string(files), s.FileCount, s.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) GetByID(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	var (
		s      snapshot.Snapshot
		source string
		files  string
	)
	err := r.db.queryRow(ctx, "snapshots",
		`SELECT id, project_id, owner_id, source, origin, files, file_count, created_at FROM snapshots WHERE id = ?`, id,
	).Scan(&s.ID, &s.ProjectID, &s.OwnerID, &source, &s.Origin, &files, &s.FileCount, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &s.Files); err != nil {
		return nil, fmt.Errorf("decode snapshot files: %w", err)
	}
	s.Source = snapshot.Source(source)
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
