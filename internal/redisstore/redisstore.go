// Package redisstore keeps revision logs in Redis.
//
// Layout per document, under a configurable prefix:
//
//	{prefix}:{doc}:h:{key}   hash   a, o, t, h (author, operation, written at, record hash)
//	{prefix}:{doc}:index     zset   every key at score 0, ordered lexicographically
//	{prefix}:{doc}:cp        hash   a, o, id (the checkpoint slot)
//	{prefix}:{doc}:feed      pubsub channel carrying newly written keys
//	{prefix}:docs            set    known document ids
//
// Conditional writes run as one Lua script so the existence check, the
// insert, the index update and the publish are atomic.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/revsync/internal/ir"
)

// DefaultPrefix namespaces every key.
const DefaultPrefix = "revsync"

// Store is a Redis-backed history store.
type Store struct {
	client  *redis.Client
	prefix  string
	writers mapset.Set[string]
	now     func() time.Time
	resync  time.Duration
}

// DefaultResyncInterval is how often a subscription re-reads the index for
// keys whose announcement it missed.
const DefaultResyncInterval = time.Second

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces keys. Default: DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithWriters restricts writes to the given authors. Writes by anyone else
// fail with ir.ErrPermissionDenied. An empty list allows everyone.
func WithWriters(authors ...string) Option {
	return func(s *Store) {
		s.writers = mapset.NewSet(authors...)
	}
}

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithResyncInterval sets how often subscriptions re-read the index without
// an announcement. Zero or negative disables the periodic re-read.
func WithResyncInterval(d time.Duration) Option {
	return func(s *Store) {
		s.resync = d
	}
}

// Open connects to the Redis server at addr and checks the connection.
func Open(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  DefaultPrefix,
		writers: mapset.NewSet[string](),
		now:     time.Now,
		resync:  DefaultResyncInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks that the server still answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client returns the underlying client.
func (s *Store) Client() *redis.Client {
	return s.client
}

// IsTransient reports whether err is worth retrying unchanged: network
// failures, deadlines and the server's LOADING/BUSY/TRYAGAIN replies.
func (s *Store) IsTransient(err error) bool {
	return IsTransient(err)
}

// IsTransient classifies Redis errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		msg := redisErr.Error()
		for _, prefix := range []string{"LOADING ", "BUSY ", "TRYAGAIN ", "CLUSTERDOWN ", "MASTERDOWN "} {
			if strings.HasPrefix(msg, prefix) {
				return true
			}
		}
	}
	return false
}

func (s *Store) recordKey(docID, key string) string {
	return fmt.Sprintf("%s:%s:h:%s", s.prefix, docID, key)
}

func (s *Store) indexKey(docID string) string {
	return fmt.Sprintf("%s:%s:index", s.prefix, docID)
}

func (s *Store) checkpointKey(docID string) string {
	return fmt.Sprintf("%s:%s:cp", s.prefix, docID)
}

func (s *Store) feedChannel(docID string) string {
	return fmt.Sprintf("%s:%s:feed", s.prefix, docID)
}

func (s *Store) docsKey() string {
	return s.prefix + ":docs"
}

func (s *Store) checkWriter(author string) error {
	if s.writers.Cardinality() == 0 || s.writers.Contains(author) {
		return nil
	}
	return fmt.Errorf("author %q: %w", author, ir.ErrPermissionDenied)
}
