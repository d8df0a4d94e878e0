package crawlers

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FrontierLog 追加式的条目标识日志
// 启动时完整读入以重建去重集合,此后只追加不改写
type FrontierLog struct {
	mu   sync.Mutex
	path string
	file *os.File
	seen map[string]bool
	ids  []string
}

// OpenFrontierLog 打开(或创建)日志并加载已有标识
func OpenFrontierLog(path string) (*FrontierLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
	}

	l := &FrontierLog{path: path, seen: make(map[string]bool)}
	if err := l.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开frontier日志失败: %w", err)
	}
	l.file = f
	return l, nil
}

func (l *FrontierLog) load() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取frontier日志失败: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" || l.seen[id] {
			continue
		}
		l.seen[id] = true
		l.ids = append(l.ids, id)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析frontier日志失败: %w", err)
	}
	return nil
}

// Seen 标识是否已记录
func (l *FrontierLog) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seen[id]
}

// Add 记录新标识并追加到文件
// 已存在时返回false;写入失败时不加入内存集合
func (l *FrontierLog) Add(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !storableID(id) {
		return false, fmt.Errorf("标识无法按行存储: %q", id)
	}
	if l.seen[id] {
		return false, nil
	}
	if l.file == nil {
		return false, fmt.Errorf("frontier日志已关闭")
	}
	if _, err := l.file.WriteString(id + "\n"); err != nil {
		return false, fmt.Errorf("追加frontier日志失败: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return false, fmt.Errorf("同步frontier日志失败: %w", err)
	}

	l.seen[id] = true
	l.ids = append(l.ids, id)
	return true, nil
}

// storableID 写入后按行读回仍是同一个标识
func storableID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "\r\n") && strings.TrimSpace(id) == id
}

// IDs 按记录顺序返回全部标识
func (l *FrontierLog) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

// Len 已记录数量
func (l *FrontierLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// Close 关闭文件
func (l *FrontierLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
