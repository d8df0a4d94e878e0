package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
)

// ReadURLsFromFile 读取批量模式的索引地址列表
// 每行一个地址,可带 %d 页码占位;空行与 # 注释跳过,无效地址告警后跳过,重复地址只保留第一次出现
func ReadURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开索引地址文件失败: %w", err)
	}
	defer file.Close()

	var urls []string
	seen := make(map[string]int)
	scanner := bufio.NewScanner(file)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := models.ValidateURL(strings.ReplaceAll(line, "%d", "1")); err != nil {
			Warnf("跳过无效地址 (行 %d): %s - %v", lineNum, line, err)
			continue
		}
		if first, dup := seen[line]; dup {
			Warnf("跳过重复地址 (行 %d, 首次出现于行 %d): %s", lineNum, first, line)
			continue
		}
		seen[line] = lineNum
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取索引地址文件失败: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("文件 %s 中没有有效的索引地址", path)
	}

	Infof("从文件加载了 %d 个索引地址", len(urls))
	return urls, nil
}
