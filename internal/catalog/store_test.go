package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

func setup(t testing.TB) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_CatalogEntry(t *testing.T) {
	ctx := context.Background()
	s := setup(t)

	got, err := s.GetCatalogEntry(ctx, "A1")
	require.NoError(t, err)
	require.Nil(t, got)

	price := "$0.00"
	checked := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.UpsertCatalogEntry(ctx, &models.CatalogEntry{
		AssetID:        "A1",
		ItemID:         "item-1",
		Title:          "第一本",
		Classification: models.ClassPurchaseAvailable,
		Price:          &price,
		LastCheckedAt:  checked,
	}))

	got, err = s.GetCatalogEntry(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "item-1", got.ItemID)
	require.Equal(t, models.ClassPurchaseAvailable, got.Classification)
	require.NotNil(t, got.Price)
	require.Equal(t, "$0.00", *got.Price)
	require.True(t, got.LastCheckedAt.Equal(checked))

	// 覆盖写入,价格清空
	require.NoError(t, s.UpsertCatalogEntry(ctx, &models.CatalogEntry{
		AssetID:        "A1",
		ItemID:         "item-1",
		Classification: models.ClassPurchaseOwned,
	}))
	got, err = s.GetCatalogEntry(ctx, "A1")
	require.NoError(t, err)
	require.Equal(t, models.ClassPurchaseOwned, got.Classification)
	require.Nil(t, got.Price)
	require.False(t, got.LastCheckedAt.IsZero())
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	s := setup(t)

	const workers, rounds = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				err := s.UpsertCatalogEntry(ctx, &models.CatalogEntry{
					AssetID:        fmt.Sprintf("W%d", w),
					ItemID:         fmt.Sprintf("item-%d", w),
					Title:          fmt.Sprintf("round-%d", i),
					Classification: models.ClassSubscriptionHeld,
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		got, err := s.GetCatalogEntry(ctx, fmt.Sprintf("W%d", w))
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, fmt.Sprintf("item-%d", w), got.ItemID)
		require.Equal(t, fmt.Sprintf("round-%d", rounds-1), got.Title)
	}
}

func TestStore_Extraction(t *testing.T) {
	ctx := context.Background()
	s := setup(t)

	rec, err := s.ExtractionStatus(ctx, "item-1")
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, s.UpsertExtraction(ctx, &models.ExtractionRecord{
		ItemID: "item-1", AssetID: "A1", Status: models.ExtractionFailed,
	}))
	require.NoError(t, s.UpsertExtraction(ctx, &models.ExtractionRecord{
		ItemID: "item-1", AssetID: "A1", Status: models.ExtractionDone, Fragments: 12, Assets: 3,
	}))

	rec, err = s.ExtractionStatus(ctx, "item-1")
	require.NoError(t, err)
	require.Equal(t, models.ExtractionDone, rec.Status)
	require.Equal(t, 12, rec.Fragments)
	require.Equal(t, 3, rec.Assets)
}

func TestStore_RecordExists(t *testing.T) {
	ctx := context.Background()
	s := setup(t)
	require.NoError(t, s.UpsertCatalogEntry(ctx, &models.CatalogEntry{
		AssetID: "A1", ItemID: "item-1", Classification: models.ClassUnavailable,
	}))

	tests := []struct {
		name    string
		table   string
		key     string
		value   string
		want    bool
		wantErr bool
	}{
		{"存在的记录", "catalog_entries", "asset_id", "A1", true, false},
		{"不存在的记录", "catalog_entries", "asset_id", "A2", false, false},
		{"按item_id查询", "catalog_entries", "item_id", "item-1", true, false},
		{"空表", "extractions", "item_id", "item-1", false, false},
		{"未知表", "users", "id", "1", false, true},
		{"未知列", "catalog_entries", "price", "1", false, true},
		{"注入", "catalog_entries; DROP TABLE x", "asset_id", "A1", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.RecordExists(ctx, tt.table, tt.key, tt.value)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidIdentifier)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := Open(ctx, "", path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertCatalogEntry(ctx, &models.CatalogEntry{
		AssetID: "A1", ItemID: "item-1", Classification: models.ClassUnavailable,
	}))
	require.NoError(t, s.Close())

	// 重新打开后数据仍在
	s, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.RecordExists(ctx, "catalog_entries", "asset_id", "A1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = Open(ctx, "mysql", "x")
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	require.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Store{driver: DriverSQLite}
	require.Equal(t, "a = ?", lite.rebind("a = ?"))
}
