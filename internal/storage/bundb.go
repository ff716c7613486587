package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"viewfs/internal/util"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	return &BunDB{DB: bun.NewDB(sqlDB, sqlitedialect.New())}
}

// --- Config Operations ---

// GetConfigValue retrieves a config value by key. Missing keys return "".
func (db *BunDB) GetConfigValue(ctx context.Context, key string) (string, error) {
	var config ConfigModel
	err := db.NewSelect().
		Model(&config).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return config.Value, nil
}

// SetConfigValue sets a config value (upserts).
func (db *BunDB) SetConfigValue(ctx context.Context, key, value string) error {
	return util.Retry(ctx, func() error {
		_, err := db.NewInsert().
			Model(&ConfigModel{Key: key, Value: value}).
			On("CONFLICT (key) DO UPDATE").
			Set("value = EXCLUDED.value").
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

// --- Schema Info Operations ---

// GetSchemaInfo retrieves a schema info value by key.
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// --- Mount Operations ---

// GetMount retrieves a mount with its targets by source path.
func (db *BunDB) GetMount(ctx context.Context, source string) (*MountModel, error) {
	var m MountModel
	err := db.NewSelect().
		Model(&m).
		Relation("Targets", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position")
		}).
		Where("source = ?", source).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMounts retrieves every mount with its targets, ordered by source.
func (db *BunDB) ListMounts(ctx context.Context) ([]MountModel, error) {
	var mounts []MountModel
	err := db.NewSelect().
		Model(&mounts).
		Relation("Targets", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position")
		}).
		Order("source").
		Scan(ctx)
	return mounts, err
}

// ReplaceMount stores a mount and its targets in one transaction, replacing
// any previous mount with the same source. Transient "database is locked"
// errors are retried.
func (db *BunDB) ReplaceMount(ctx context.Context, source string, targets []string, nfly string) error {
	return util.Retry(ctx, func() error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := deleteMountWith(ctx, tx, source); err != nil {
				return err
			}
			m := &MountModel{Source: source, Nfly: nfly, CreatedAt: time.Now().Unix()}
			// libsql doesn't support LastInsertId
			if _, err := tx.NewInsert().Model(m).Returning("id").Exec(ctx); err != nil {
				return err
			}
			rows := make([]*MountTargetModel, len(targets))
			for i, uri := range targets {
				rows[i] = &MountTargetModel{MountID: m.ID, Position: i, URI: uri}
			}
			if len(rows) == 0 {
				return nil
			}
			_, err := tx.NewInsert().Model(&rows).Exec(ctx)
			return err
		})
	}, util.DatabaseRetryOptions(ctx)...)
}

// DeleteMount deletes a mount and its targets by source path.
func (db *BunDB) DeleteMount(ctx context.Context, source string) (int64, error) {
	var affected int64
	err := util.Retry(ctx, func() error {
		return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			n, err := deleteMountWith(ctx, tx, source)
			affected = n
			return err
		})
	}, util.DatabaseRetryOptions(ctx)...)
	return affected, err
}

// deleteMountWith removes targets explicitly; foreign_keys may be off on
// connections opened by other tools.
func deleteMountWith(ctx context.Context, idb bun.IDB, source string) (int64, error) {
	_, err := idb.NewDelete().
		Model((*MountTargetModel)(nil)).
		Where("mount_id IN (SELECT id FROM mounts WHERE source = ?)", source).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	result, err := idb.NewDelete().
		Model((*MountModel)(nil)).
		Where("source = ?", source).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
