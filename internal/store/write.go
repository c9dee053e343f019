package store

import (
	"context"
	"fmt"

	"github.com/roach88/revsync/internal/ir"
)

// PutIfAbsent writes rec at history/{key} only if the key is empty.
//
// Returns committed=true when the record was inserted, or when the key already
// holds a record with the same author and operation (an earlier attempt of the
// same write landed). Returns committed=false when a different record owns
// the key. The operation payload is stored in canonical JSON and WrittenAt is
// replaced by the store clock.
func (s *Store) PutIfAbsent(ctx context.Context, docID, key string, rec ir.HistoryRecord) (bool, error) {
	if err := s.checkWriter(rec.Author); err != nil {
		return false, fmt.Errorf("put history %s/%s: %w", docID, key, err)
	}

	opJSON, err := ir.CanonicalizeJSON(rec.Operation)
	if err != nil {
		return false, fmt.Errorf("put history %s/%s: %w", docID, key, err)
	}
	rec.Operation = opJSON
	hash, err := ir.RecordHash(rec)
	if err != nil {
		return false, fmt.Errorf("put history %s/%s: %w", docID, key, err)
	}
	rec.WrittenAt = s.now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("put history %s/%s: begin tx: %w", docID, key, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO history
		(doc_id, revision_key, author, operation, record_hash, written_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, revision_key) DO NOTHING
	`,
		docID,
		key,
		rec.Author,
		string(opJSON),
		hash,
		rec.WrittenAt,
	)
	if err != nil {
		return false, fmt.Errorf("put history %s/%s: insert: %w", docID, key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put history %s/%s: rows affected: %w", docID, key, err)
	}

	inserted := rowsAffected > 0
	committed := inserted
	if !inserted {
		var existing string
		err = tx.QueryRowContext(ctx, `
			SELECT record_hash FROM history
			WHERE doc_id = ? AND revision_key = ?
		`, docID, key).Scan(&existing)
		if err != nil {
			return false, fmt.Errorf("put history %s/%s: select existing: %w", docID, key, err)
		}
		committed = existing == hash
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("put history %s/%s: commit: %w", docID, key, err)
	}

	if inserted {
		s.feed.publish(docID, ir.KeyedRecord{Key: key, Record: rec})
	}
	return committed, nil
}

// WriteCheckpoint overwrites the document's checkpoint slot.
func (s *Store) WriteCheckpoint(ctx context.Context, docID string, rec ir.CheckpointRecord) error {
	if err := s.checkWriter(rec.Author); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", docID, err)
	}

	opJSON, err := ir.CanonicalizeJSON(rec.Operation)
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", docID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
		(doc_id, revision_key, author, operation, written_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			revision_key = excluded.revision_key,
			author = excluded.author,
			operation = excluded.operation,
			written_at = excluded.written_at
	`,
		docID,
		rec.RevisionKey,
		rec.Author,
		string(opJSON),
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", docID, err)
	}
	return nil
}

func (s *Store) checkWriter(author string) error {
	if s.writers.Cardinality() > 0 && !s.writers.Contains(author) {
		return fmt.Errorf("%w: %q may not write", ir.ErrPermissionDenied, author)
	}
	return nil
}
