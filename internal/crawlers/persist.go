package crawlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/extract"
	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// persist 排序落盘,推送资源并更新目录
func (w *Worker) persist(ctx context.Context, run *itemRun) (models.ItemState, error) {
	result := run.engine.Result()

	fragments := append([]models.ContentFragment(nil), result.Fragments...)
	if err := extract.SortFragments(fragments); err != nil {
		return models.StateFailed, err
	}

	if err := WriteArtifact(run.artifact, fragments); err != nil {
		return models.StateFailed, processFatal(run, err)
	}

	assets := run.engine.Assets()
	for _, a := range assets {
		if err := w.deps.Assets.Push(a); err != nil {
			if errors.Is(err, ErrQueueClosed) {
				utils.Warnf("资源队列已关闭,丢弃 %s", a.URL)
				continue
			}
			return models.StateFailed, err
		}
	}

	if err := w.recordCatalog(ctx, run); err != nil {
		return models.StateFailed, err
	}
	rec := &models.ExtractionRecord{
		ItemID:    run.entry.ItemID,
		AssetID:   run.identity,
		Status:    models.ExtractionDone,
		Fragments: len(fragments),
		Assets:    len(assets),
		UpdatedAt: w.now(),
	}
	if err := w.deps.Catalog.UpsertExtraction(ctx, rec); err != nil {
		return models.StateFailed, processFatal(run, err)
	}

	w.deps.Stats.Fragments.Add(int64(len(fragments)))
	utils.Infof("条目 %s 已保存: %s (%d个片段, %d个资源)", run.entry.ItemID, run.artifact, len(fragments), len(assets))
	return models.StateRelease, nil
}

// WriteArtifact 原子写入产物: 先写临时文件再重命名
func WriteArtifact(path string, fragments []models.ContentFragment) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	lines := make([]string, 0, len(fragments))
	for _, f := range fragments {
		lines = append(lines, f.Line())
	}
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("写入产物失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("同步产物失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭产物失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("重命名产物失败: %w", err)
	}
	return nil
}
