package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/revsync/internal/ir"
)

// putIfAbsentScript inserts a record unless its key is taken.
//
// KEYS: record hash, index zset, docs set
// ARGV: key, author, operation, written at, record hash, feed channel, doc id
//
// Returns 2 when inserted, 1 when the key holds an identical record and 0
// when it holds a different one.
var putIfAbsentScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], 'h')
if existing then
  if existing == ARGV[5] then
    return 1
  end
  return 0
end
redis.call('HSET', KEYS[1], 'a', ARGV[2], 'o', ARGV[3], 't', ARGV[4], 'h', ARGV[5])
redis.call('ZADD', KEYS[2], 0, ARGV[1])
redis.call('SADD', KEYS[3], ARGV[7])
redis.call('PUBLISH', ARGV[6], ARGV[1])
return 2
`)

const (
	putTaken     = 0
	putIdentical = 1
	putInserted  = 2
)

// PutIfAbsent writes rec at key only if the key is empty. Semantics match
// the SQLite store: an identical record already at key counts as committed.
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

	res, err := putIfAbsentScript.Run(ctx, s.client,
		[]string{s.recordKey(docID, key), s.indexKey(docID), s.docsKey()},
		key, rec.Author, string(opJSON), s.now().UnixMilli(), hash, s.feedChannel(docID), docID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("put history %s/%s: %w", docID, key, err)
	}

	switch res {
	case putInserted, putIdentical:
		return true, nil
	case putTaken:
		return false, nil
	default:
		return false, fmt.Errorf("put history %s/%s: unexpected script result %d", docID, key, res)
	}
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

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.checkpointKey(docID), "a", rec.Author, "o", string(opJSON), "id", rec.RevisionKey)
		pipe.SAdd(ctx, s.docsKey(), docID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", docID, err)
	}
	return nil
}
