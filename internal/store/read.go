package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/revsync/internal/ir"
)

// ReadRange returns the history records of a document with start <= key <= end,
// in ascending key order. An empty end means no upper bound.
//
// Returns an empty slice (not nil) if no records match.
func (s *Store) ReadRange(ctx context.Context, docID, start, end string) ([]ir.KeyedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT revision_key, author, operation, written_at
		FROM history
		WHERE doc_id = ?
		  AND revision_key >= ?
		  AND (? = '' OR revision_key <= ?)
		ORDER BY revision_key COLLATE BINARY ASC
	`, docID, start, end, end)
	if err != nil {
		return nil, fmt.Errorf("query history range: %w", err)
	}
	defer rows.Close()

	records := []ir.KeyedRecord{}
	for rows.Next() {
		kr, err := scanKeyedRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, kr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history range: %w", err)
	}

	return records, nil
}

// ReadRecord retrieves a single history record.
// Returns found=false if the key is empty.
func (s *Store) ReadRecord(ctx context.Context, docID, key string) (ir.HistoryRecord, bool, error) {
	var rec ir.HistoryRecord
	var opJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT author, operation, written_at
		FROM history
		WHERE doc_id = ? AND revision_key = ?
	`, docID, key).Scan(&rec.Author, &opJSON, &rec.WrittenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.HistoryRecord{}, false, nil
	}
	if err != nil {
		return ir.HistoryRecord{}, false, fmt.Errorf("read history %s/%s: %w", docID, key, err)
	}
	rec.Operation = json.RawMessage(opJSON)
	return rec, true, nil
}

// ReadCheckpoint retrieves the document's checkpoint slot.
// Returns found=false if no checkpoint has been written.
func (s *Store) ReadCheckpoint(ctx context.Context, docID string) (ir.CheckpointRecord, bool, error) {
	var rec ir.CheckpointRecord
	var opJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT revision_key, author, operation
		FROM checkpoints
		WHERE doc_id = ?
	`, docID).Scan(&rec.RevisionKey, &rec.Author, &opJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CheckpointRecord{}, false, nil
	}
	if err != nil {
		return ir.CheckpointRecord{}, false, fmt.Errorf("read checkpoint %s: %w", docID, err)
	}
	rec.Operation = json.RawMessage(opJSON)
	return rec, true, nil
}

// ListDocuments returns the ids of all documents with history, sorted.
func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT doc_id FROM history
		ORDER BY doc_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		docs = append(docs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// scanKeyedRecord scans a row into a KeyedRecord.
func scanKeyedRecord(rows *sql.Rows) (ir.KeyedRecord, error) {
	var kr ir.KeyedRecord
	var opJSON string
	if err := rows.Scan(&kr.Key, &kr.Record.Author, &opJSON, &kr.Record.WrittenAt); err != nil {
		return ir.KeyedRecord{}, fmt.Errorf("scan history record: %w", err)
	}
	kr.Record.Operation = json.RawMessage(opJSON)
	return kr, nil
}
