package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// TokenStore persists session and credential records in the
// credential_records table. Versions are checked inside the UPDATE so
// concurrent writers across processes observe the same CAS contract as
// core.MemoryTokenStore.
type TokenStore struct {
	db    *bun.DB
	repo  repository.Repository[*credentialRecordModel]
	nowFn func() time.Time
}

func NewTokenStore(db *bun.DB) (*TokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*credentialRecordModel](db, credentialRecordHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential record repository wiring: %w", err)
		}
	}
	return &TokenStore{
		db:    db,
		repo:  repo,
		nowFn: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *TokenStore) Get(ctx context.Context, key string) (core.Record, error) {
	if s == nil || s.repo == nil {
		return core.Record{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	key, err := normalizeKey(key)
	if err != nil {
		return core.Record{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("record_key", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Record{}, err
	}
	if len(records) == 0 {
		return core.Record{}, fmt.Errorf("%w: %q", core.ErrRecordNotFound, key)
	}
	return records[0].toDomain(), nil
}

func (s *TokenStore) Put(ctx context.Context, key string, payload []byte) (core.Record, error) {
	if s == nil || s.db == nil {
		return core.Record{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	key, err := normalizeKey(key)
	if err != nil {
		return core.Record{}, err
	}
	now := s.nowFn()

	var written core.Record
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, updateErr := tx.NewUpdate().
			Model((*credentialRecordModel)(nil)).
			Set("payload = ?", payload).
			Set("version = version + 1").
			Set("updated_at = ?", now).
			Where("record_key = ?", key).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			record, loadErr := s.loadTx(ctx, tx, key)
			written = record
			return loadErr
		}
		created, createErr := s.repo.CreateTx(ctx, tx, newCredentialRecordModel(key, payload, now))
		if createErr != nil {
			return createErr
		}
		written = created.toDomain()
		return nil
	})
	if err != nil {
		return core.Record{}, err
	}
	return written, nil
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: token store is not configured")
	}
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*credentialRecordModel)(nil)).
		Where("record_key = ?", key).
		Exec(ctx)
	return err
}

func (s *TokenStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, payload []byte) (core.Record, error) {
	if s == nil || s.db == nil {
		return core.Record{}, fmt.Errorf("sqlstore: token store is not configured")
	}
	key, err := normalizeKey(key)
	if err != nil {
		return core.Record{}, err
	}
	if expectedVersion < 0 {
		return core.Record{}, fmt.Errorf("sqlstore: expected version must be >= 0")
	}
	now := s.nowFn()

	var written core.Record
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if expectedVersion == 0 {
			exists, existsErr := tx.NewSelect().
				Model((*credentialRecordModel)(nil)).
				Where("?TableAlias.record_key = ?", key).
				Exists(ctx)
			if existsErr != nil {
				return existsErr
			}
			if exists {
				return fmt.Errorf("%w: %q already exists", core.ErrVersionConflict, key)
			}
			created, createErr := s.repo.CreateTx(ctx, tx, newCredentialRecordModel(key, payload, now))
			if createErr != nil {
				if isUniqueViolation(createErr) {
					return fmt.Errorf("%w: %q already exists", core.ErrVersionConflict, key)
				}
				return createErr
			}
			written = created.toDomain()
			return nil
		}

		res, updateErr := tx.NewUpdate().
			Model((*credentialRecordModel)(nil)).
			Set("payload = ?", payload).
			Set("version = ?", expectedVersion+1).
			Set("updated_at = ?", now).
			Where("record_key = ?", key).
			Where("version = ?", expectedVersion).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		affected, affectedErr := res.RowsAffected()
		if affectedErr != nil {
			return affectedErr
		}
		if affected == 0 {
			return fmt.Errorf("%w: %q expected version %d", core.ErrVersionConflict, key, expectedVersion)
		}
		record, loadErr := s.loadTx(ctx, tx, key)
		written = record
		return loadErr
	})
	if err != nil {
		return core.Record{}, err
	}
	return written, nil
}

// Scan lists records whose key starts with prefix, ordered by key.
func (s *TokenStore) Scan(ctx context.Context, prefix string) ([]core.Record, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: token store is not configured")
	}
	prefix = strings.TrimSpace(prefix)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("record_key", "LIKE", escapeLike(prefix)+"%"),
		repository.OrderBy("record_key ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Record, 0, len(records))
	for _, record := range records {
		if !strings.HasPrefix(record.RecordKey, prefix) {
			continue
		}
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *TokenStore) loadTx(ctx context.Context, tx bun.Tx, key string) (core.Record, error) {
	record := &credentialRecordModel{}
	if err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.record_key = ?", key).
		Limit(1).
		Scan(ctx); err != nil {
		return core.Record{}, err
	}
	return record.toDomain(), nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("sqlstore: record key is required")
	}
	return key, nil
}

// escapeLike widens '%' to a single-character wildcard. Callers re-check
// matches with strings.HasPrefix since LIKE escape syntax differs by dialect.
func escapeLike(value string) string {
	return strings.ReplaceAll(value, "%", "_")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrVersionConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
