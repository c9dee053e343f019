package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/revsync/internal/ir"
)

// storedRecord is the hash form of a history record.
type storedRecord struct {
	Author    string `mapstructure:"a"`
	Operation string `mapstructure:"o"`
	WrittenAt int64  `mapstructure:"t"`
	Hash      string `mapstructure:"h"`
}

// storedCheckpoint is the hash form of the checkpoint slot.
type storedCheckpoint struct {
	Author      string `mapstructure:"a"`
	Operation   string `mapstructure:"o"`
	RevisionKey string `mapstructure:"id"`
}

// decodeHash fills out from a HGETALL reply. Redis returns every field as a
// string, so numbers are converted with weak typing.
func decodeHash(fields map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(fields)
}

// ReadRange returns the records of docID with start <= key <= end in key
// order. An empty start reads from the first key, an empty end to the last.
func (s *Store) ReadRange(ctx context.Context, docID, start, end string) ([]ir.KeyedRecord, error) {
	lo, hi := "-", "+"
	if start != "" {
		lo = "[" + start
	}
	if end != "" {
		hi = "[" + end
	}

	keys, err := s.client.ZRangeByLex(ctx, s.indexKey(docID), &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	if err != nil {
		return nil, fmt.Errorf("read history %s: index: %w", docID, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(docID, key))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", docID, err)
	}

	records := make([]ir.KeyedRecord, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := toHistoryRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("read history %s/%s: %w", docID, keys[i], err)
		}
		records = append(records, ir.KeyedRecord{Key: keys[i], Record: rec})
	}
	return records, nil
}

// ReadRecord returns the record at key.
func (s *Store) ReadRecord(ctx context.Context, docID, key string) (ir.HistoryRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(docID, key)).Result()
	if err != nil {
		return ir.HistoryRecord{}, false, fmt.Errorf("read history %s/%s: %w", docID, key, err)
	}
	if len(fields) == 0 {
		return ir.HistoryRecord{}, false, nil
	}
	rec, err := toHistoryRecord(fields)
	if err != nil {
		return ir.HistoryRecord{}, false, fmt.Errorf("read history %s/%s: %w", docID, key, err)
	}
	return rec, true, nil
}

// ReadCheckpoint returns the document's checkpoint, if one was written.
func (s *Store) ReadCheckpoint(ctx context.Context, docID string) (ir.CheckpointRecord, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.checkpointKey(docID)).Result()
	if err != nil {
		return ir.CheckpointRecord{}, false, fmt.Errorf("read checkpoint %s: %w", docID, err)
	}
	if len(fields) == 0 {
		return ir.CheckpointRecord{}, false, nil
	}

	var sc storedCheckpoint
	if err := decodeHash(fields, &sc); err != nil {
		return ir.CheckpointRecord{}, false, fmt.Errorf("read checkpoint %s: %w", docID, err)
	}
	return ir.CheckpointRecord{
		Author:      sc.Author,
		Operation:   json.RawMessage(sc.Operation),
		RevisionKey: sc.RevisionKey,
	}, true, nil
}

// ListDocuments returns every document id with history or a checkpoint.
func (s *Store) ListDocuments(ctx context.Context) ([]string, error) {
	docs, err := s.client.SMembers(ctx, s.docsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	sort.Strings(docs)
	return docs, nil
}

func toHistoryRecord(fields map[string]string) (ir.HistoryRecord, error) {
	var sr storedRecord
	if err := decodeHash(fields, &sr); err != nil {
		return ir.HistoryRecord{}, err
	}
	return ir.HistoryRecord{
		Author:    sr.Author,
		Operation: json.RawMessage(sr.Operation),
		WrittenAt: sr.WrittenAt,
	}, nil
}
