package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MariaShardIndex реализует ShardIndex для MariaDB/MySQL.
// Использует таблицу shard_index; несколько экземпляров сервера видят общий индекс.
type MariaShardIndex struct {
	db *sql.DB
}

// NewMariaShardIndex подключается к базе и создаёт таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMariaShardIndex(dsn string) (*MariaShardIndex, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	idx, err := NewMariaShardIndexWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// NewMariaShardIndexWithDB использует готовое соединение
func NewMariaShardIndexWithDB(db *sql.DB) (*MariaShardIndex, error) {
	idx := &MariaShardIndex{db: db}
	if err := idx.createTable(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return idx, nil
}

// createTable создает таблицу shard_index, если она не существует.
func (m *MariaShardIndex) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS shard_index (
			name           VARCHAR(128) PRIMARY KEY,
			file           VARCHAR(160) NOT NULL,
			path           VARCHAR(255) NOT NULL,
			seed           INT          NOT NULL,
			template       VARCHAR(128) NOT NULL,
			biome_pack     VARCHAR(128) NOT NULL,
			overrides_hash VARCHAR(64)  NOT NULL,
			width          INT          NOT NULL,
			height         INT          NOT NULL,
			created_at     DATETIME(6)  NOT NULL,
			INDEX idx_seed (seed)
		) ENGINE=InnoDB
	`

	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("ошибка создания таблицы shard_index: %w", err)
	}
	return nil
}

// Put использует INSERT ... ON DUPLICATE KEY UPDATE для замены записи
func (m *MariaShardIndex) Put(ctx context.Context, rec ShardRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO shard_index
			(name, file, path, seed, template, biome_pack, overrides_hash, width, height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			file = VALUES(file),
			path = VALUES(path),
			seed = VALUES(seed),
			template = VALUES(template),
			biome_pack = VALUES(biome_pack),
			overrides_hash = VALUES(overrides_hash),
			width = VALUES(width),
			height = VALUES(height),
			created_at = VALUES(created_at)
	`

	_, err := m.db.ExecContext(ctx, query,
		rec.Name, rec.File, rec.Path, rec.Seed, rec.Template, rec.BiomePack,
		rec.OverridesHash, rec.Width, rec.Height, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("ошибка сохранения шарда %s: %w", rec.Name, err)
	}
	return nil
}

const selectColumns = `SELECT name, file, path, seed, template, biome_pack, overrides_hash, width, height, created_at FROM shard_index`

func scanRecord(row interface{ Scan(...any) error }) (ShardRecord, error) {
	var r ShardRecord
	err := row.Scan(&r.Name, &r.File, &r.Path, &r.Seed, &r.Template, &r.BiomePack,
		&r.OverridesHash, &r.Width, &r.Height, &r.CreatedAt)
	return r, err
}

func (m *MariaShardIndex) Get(ctx context.Context, name string) (ShardRecord, bool, error) {
	rec, err := scanRecord(m.db.QueryRowContext(ctx, selectColumns+` WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return ShardRecord{}, false, nil
	}
	if err != nil {
		return ShardRecord{}, false, fmt.Errorf("ошибка загрузки шарда %s: %w", name, err)
	}
	return rec, true, nil
}

func (m *MariaShardIndex) BySeed(ctx context.Context, seed int) ([]ShardRecord, error) {
	return m.query(ctx, selectColumns+` WHERE seed = ? ORDER BY file`, seed)
}

func (m *MariaShardIndex) List(ctx context.Context) ([]ShardRecord, error) {
	return m.query(ctx, selectColumns+` ORDER BY file`)
}

func (m *MariaShardIndex) query(ctx context.Context, query string, args ...any) ([]ShardRecord, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса индекса: %w", err)
	}
	defer rows.Close()

	out := []ShardRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки индекса: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации индекса: %w", err)
	}
	return out, nil
}

func (m *MariaShardIndex) Delete(ctx context.Context, name string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM shard_index WHERE name = ?`, name); err != nil {
		return fmt.Errorf("ошибка удаления шарда %s: %w", name, err)
	}
	return nil
}

func (m *MariaShardIndex) Close() error {
	return m.db.Close()
}
