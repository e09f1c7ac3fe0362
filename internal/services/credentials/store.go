// Package credentials implements the Credential Store (C2): validated
// persistence of CredentialRecord keyed by uid, with TTL and
// overwrite-on-re-login semantics (spec.md §4.2).
//
// Grounded on the teacher's interfaces.KeyValueStorage shape (a small CRUD
// surface over one namespace of keys) re-targeted at redis/go-redis/v9's
// hash commands, since spec.md §6.3 specifies one hash per account.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/weiqr/weiqr/internal/apperr"
	"github.com/weiqr/weiqr/internal/interfaces"
	"github.com/weiqr/weiqr/internal/models"
	redisstore "github.com/weiqr/weiqr/internal/storage/redis"
)

// ErrNotFound is returned by Query when no record exists for the uid.
var ErrNotFound = errors.New("credential record not found")

// Store implements interfaces.CredentialStore over the shared Redis pool.
type Store struct {
	pool   *redisstore.Pool
	ttl    int64 // seconds
	logger arbor.ILogger
}

// New creates a Credential Store. ttlSeconds is the record lifetime,
// spec.md §3 default 30 days (2,592,000 s).
func New(pool *redisstore.Pool, ttlSeconds int64, logger arbor.ILogger) *Store {
	return &Store{pool: pool, ttl: ttlSeconds, logger: logger}
}

var _ interfaces.CredentialStore = (*Store)(nil)

type storedRecord struct {
	Cookies     map[string]string `json:"cookies"`
	FetchedAt   int64             `json:"fetched_at"`
	ValidatedAt int64             `json:"validated_at"`
	DisplayName string            `json:"display_name,omitempty"`
}

// Save persists a validated record, atomically overwriting any existing
// record for the same uid (spec.md §4.2). The caller — the Login
// Orchestrator — is responsible for ensuring the record has already passed
// validation; the store itself only enforces structural invariants
// (spec.md §4.2, "Invariants").
func (s *Store) Save(ctx context.Context, record *models.CredentialRecord) (interfaces.SaveOutcome, string, error) {
	if record.UID == "" {
		return "", "", apperr.New(apperr.CodeMissingCookie, "uid must not be empty")
	}
	if missing := record.MissingCookies(); len(missing) > 0 {
		return "", "", apperr.New(apperr.CodeMissingCookie, fmt.Sprintf("missing required cookie: %s", missing[0]))
	}

	key := record.StorageKey(s.pool.Namespace)

	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	existed, err := s.pool.Client.Exists(opCtx, key).Result()
	if err != nil {
		return "", "", apperr.Wrap(apperr.CodeStorageConnectionFailed, "checking existing credential", err)
	}

	payload := storedRecord{
		Cookies:     record.Cookies,
		FetchedAt:   record.FetchedAt.Unix(),
		ValidatedAt: record.ValidatedAt.Unix(),
		DisplayName: record.DisplayName,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", apperr.Wrap(apperr.CodeSerializationError, "encoding credential record", err)
	}

	pipe := s.pool.Client.TxPipeline()
	pipe.HSet(opCtx, key, "record", data)
	pipe.Expire(opCtx, key, secondsToDuration(s.ttl))
	if _, err := pipe.Exec(opCtx); err != nil {
		return "", "", apperr.Wrap(apperr.CodeStorageConnectionFailed, "saving credential record", err)
	}

	outcome := interfaces.SaveCreated
	if existed > 0 {
		outcome = interfaces.SaveOverwritten
	}

	s.logger.Info().
		Str("uid", record.UID).
		Strs("cookie_names", redactedNames(record.Cookies)).
		Str("outcome", string(outcome)).
		Msg("credential record saved")

	return outcome, key, nil
}

// Query returns the record for uid, or ErrNotFound.
func (s *Store) Query(ctx context.Context, uid string) (*models.CredentialRecord, error) {
	key := fmt.Sprintf("%s:cookies:%s", s.pool.Namespace, uid)

	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	data, err := s.pool.Client.HGet(opCtx, key, "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "querying credential record", err)
	}

	var payload storedRecord
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, apperr.Wrap(apperr.CodeSerializationError, "decoding credential record", err)
	}

	return &models.CredentialRecord{
		UID:         uid,
		Cookies:     payload.Cookies,
		FetchedAt:   unixToTime(payload.FetchedAt),
		ValidatedAt: unixToTime(payload.ValidatedAt),
		DisplayName: payload.DisplayName,
	}, nil
}

// List returns all uids with a live record, by prefix scan of the namespace
// (spec.md §4.2).
func (s *Store) List(ctx context.Context) ([]string, error) {
	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	pattern := s.pool.Namespace + ":cookies:*"
	prefixLen := len(s.pool.Namespace) + len(":cookies:")

	var uids []string
	iter := s.pool.Client.Scan(opCtx, 0, pattern, 100).Iterator()
	for iter.Next(opCtx) {
		key := iter.Val()
		if len(key) > prefixLen {
			uids = append(uids, key[prefixLen:])
		}
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageConnectionFailed, "listing credential records", err)
	}

	return uids, nil
}

// Delete removes the record for uid. Idempotent: deleting an absent uid is
// not an error (spec.md §4.2).
func (s *Store) Delete(ctx context.Context, uid string) error {
	key := fmt.Sprintf("%s:cookies:%s", s.pool.Namespace, uid)

	opCtx, cancel := s.pool.WithTimeout(ctx)
	defer cancel()

	if err := s.pool.Client.Del(opCtx, key).Err(); err != nil {
		return apperr.Wrap(apperr.CodeStorageConnectionFailed, "deleting credential record", err)
	}
	return nil
}

func redactedNames(cookies map[string]string) []string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	return names
}
