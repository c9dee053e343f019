package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainHistory    = "revsync/history/v1"
	DomainCheckpoint = "revsync/checkpoint/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordHash fingerprints the author and operation of a history record.
// WrittenAt is excluded: two submissions of the same edit by the same author
// hash identically regardless of when the store accepted them.
func RecordHash(rec HistoryRecord) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"a": rec.Author,
		"o": rec.Operation,
	})
	if err != nil {
		return "", fmt.Errorf("RecordHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainHistory, canonical), nil
}

// CheckpointHash fingerprints a checkpoint record.
func CheckpointHash(rec CheckpointRecord) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"a":  rec.Author,
		"o":  rec.Operation,
		"id": rec.RevisionKey,
	})
	if err != nil {
		return "", fmt.Errorf("CheckpointHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCheckpoint, canonical), nil
}
