// Package catalog 持久化目录: 条目分类与提取状态
//
// 默认使用 modernc.org/sqlite(纯Go,无cgo),也可以通过 pgx 连接 PostgreSQL。
// 两种驱动共用同一份建表语句与 upsert 语句。
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

//go:embed schema.sql
var schema string

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// ErrInvalidIdentifier 表名或列名不在白名单内
var ErrInvalidIdentifier = errors.New("无效的表名或列名")

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// columns RecordExists允许查询的表与列
var columns = map[string]map[string]bool{
	"catalog_entries": {"asset_id": true, "item_id": true, "title": true, "classification": true},
	"extractions":     {"item_id": true, "asset_id": true, "status": true},
}

// Store 持久化目录
// 并发安全,同一个键的多次upsert以最后一次为准
type Store struct {
	db     *sql.DB
	driver string
}

// Open 打开目录并建表
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn == "" {
			dsn = "catalog.db"
		}
	case DriverPostgres, "postgres":
		driver = DriverPostgres
		if dsn == "" {
			return nil, fmt.Errorf("postgres DSN is required")
		}
	default:
		return nil, fmt.Errorf("不支持的目录驱动: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开目录失败: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite 单写者,串行化所有写入
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("设置busy_timeout失败: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接目录失败: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("建表失败: %w", err)
		}
	}
	return nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind 将 ? 占位符改写为 pgx 的 $n
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetCatalogEntry 按资源标识读取记录,不存在时返回nil
func (s *Store) GetCatalogEntry(ctx context.Context, assetID string) (*models.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT asset_id, item_id, title, classification, price, last_checked_at
		FROM catalog_entries WHERE asset_id = ?`), assetID)

	var (
		entry   models.CatalogEntry
		class   string
		price   sql.NullString
		checked int64
	)
	err := row.Scan(&entry.AssetID, &entry.ItemID, &entry.Title, &class, &price, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取目录记录失败 [%s]: %w", assetID, err)
	}

	entry.Classification, err = models.ParseClassification(class)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		p := price.String
		entry.Price = &p
	}
	entry.LastCheckedAt = time.UnixMilli(checked)
	return &entry, nil
}

// UpsertCatalogEntry 插入或覆盖目录记录
func (s *Store) UpsertCatalogEntry(ctx context.Context, entry *models.CatalogEntry) error {
	if entry == nil || entry.AssetID == "" {
		return fmt.Errorf("目录记录缺少asset_id")
	}
	checked := entry.LastCheckedAt
	if checked.IsZero() {
		checked = time.Now()
	}

	var price sql.NullString
	if entry.Price != nil {
		price = sql.NullString{String: *entry.Price, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO catalog_entries (asset_id, item_id, title, classification, price, last_checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id) DO UPDATE SET
			item_id = excluded.item_id,
			title = excluded.title,
			classification = excluded.classification,
			price = excluded.price,
			last_checked_at = excluded.last_checked_at`),
		entry.AssetID, entry.ItemID, entry.Title, string(entry.Classification), price, checked.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入目录记录失败 [%s]: %w", entry.AssetID, err)
	}
	return nil
}

// UpsertExtraction 插入或覆盖提取状态
func (s *Store) UpsertExtraction(ctx context.Context, rec *models.ExtractionRecord) error {
	if rec == nil || rec.ItemID == "" {
		return fmt.Errorf("提取记录缺少item_id")
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO extractions (item_id, asset_id, status, fragments, assets, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			asset_id = excluded.asset_id,
			status = excluded.status,
			fragments = excluded.fragments,
			assets = excluded.assets,
			updated_at = excluded.updated_at`),
		rec.ItemID, rec.AssetID, string(rec.Status), rec.Fragments, rec.Assets, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("写入提取记录失败 [%s]: %w", rec.ItemID, err)
	}
	return nil
}

// ExtractionStatus 读取条目的提取状态,不存在时返回nil
func (s *Store) ExtractionStatus(ctx context.Context, itemID string) (*models.ExtractionRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT item_id, asset_id, status, fragments, assets, updated_at
		FROM extractions WHERE item_id = ?`), itemID)

	var (
		rec     models.ExtractionRecord
		status  string
		updated int64
	)
	err := row.Scan(&rec.ItemID, &rec.AssetID, &status, &rec.Fragments, &rec.Assets, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取提取记录失败 [%s]: %w", itemID, err)
	}
	rec.Status = models.ExtractionStatus(status)
	rec.UpdatedAt = time.UnixMilli(updated)
	return &rec, nil
}

// RecordExists 判断table中是否存在 key = value 的记录
// table与key只接受已知的表和列
func (s *Store) RecordExists(ctx context.Context, table, key, value string) (bool, error) {
	if !identPattern.MatchString(table) || !identPattern.MatchString(key) {
		return false, fmt.Errorf("%w: %s.%s", ErrInvalidIdentifier, table, key)
	}
	cols, ok := columns[table]
	if !ok || !cols[key] {
		return false, fmt.Errorf("%w: %s.%s", ErrInvalidIdentifier, table, key)
	}

	var exists int
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? LIMIT 1", table, key)
	err := s.db.QueryRowContext(ctx, s.rebind(query), value).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询记录失败: %w", err)
	}
	return true, nil
}
