package session

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const mb = 1024 * 1024

// ResourceMonitor 系统资源监控器
// 浏览器标签页运行在子进程里,所以按整机可用内存而不是Go堆来限制会话数
type ResourceMonitor struct {
	config ResourceMonitorConfig

	mu     sync.RWMutex
	sample resourceSample
	cancel context.CancelFunc

	readMemory func() (*mem.VirtualMemoryStat, error)
	readCPU    func() (float64, error)
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // 留给系统与其他进程的内存(字节)
	SafetyThreshold     int64 // 低于该可用内存时拒绝新会话(字节)
	CPULoadThreshold    int   // CPU负载阈值(%),>=200视为禁用
	MaxSessionsLimit    int   // 绝对最大会话数
	SessionMemoryUsage  int64 // 单个会话平均内存(字节)
}

// MemoryStatus 内存状态
type MemoryStatus struct {
	TotalMemory     uint64
	AvailableMemory int64
	MemoryPressure  string
}

type resourceSample struct {
	total     uint64
	available uint64
	cpu       float64
}

// NewResourceMonitor 创建资源监控器并立即采样一次
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.SessionMemoryUsage <= 0 {
		config.SessionMemoryUsage = 150 * mb
	}
	if config.MaxSessionsLimit <= 0 {
		config.MaxSessionsLimit = 8
	}

	rm := &ResourceMonitor{
		config:     config,
		readMemory: mem.VirtualMemory,
		readCPU: func() (float64, error) {
			p, err := cpu.Percent(100*time.Millisecond, false)
			if err != nil {
				return 0, err
			}
			if len(p) == 0 {
				return 0, fmt.Errorf("cpu.Percent 未返回数据")
			}
			return p[0], nil
		},
	}
	rm.refresh()

	s := rm.snapshot()
	log.Info().Msgf("系统内存: 总计 %.2f GB, 可用 %.2f GB",
		float64(s.total)/(1024*mb), float64(s.available)/(1024*mb))
	return rm
}

// refresh 采样失败时保留上一次的值,首次失败按4GB总内存估算
func (rm *ResourceMonitor) refresh() {
	rm.mu.RLock()
	next := rm.sample
	rm.mu.RUnlock()

	if vm, err := rm.readMemory(); err != nil {
		log.Warn().Err(err).Msg("获取系统内存失败")
		if next.total == 0 {
			next.total = 4 * 1024 * mb
			next.available = next.total / 2
		}
	} else {
		next.total, next.available = vm.Total, vm.Available
	}

	if usage, err := rm.readCPU(); err != nil {
		log.Debug().Err(err).Msg("获取CPU使用率失败")
	} else {
		next.cpu = usage
	}

	rm.mu.Lock()
	rm.sample = next
	rm.mu.Unlock()
}

func (rm *ResourceMonitor) snapshot() resourceSample {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.sample
}

// StartMonitoring 启动后台采样,重复调用无效
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancel = cancel
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.refresh()
			}
		}
	}()
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
}

// usable 扣除保留量后可分给会话的内存
func (rm *ResourceMonitor) usable(s resourceSample) int64 {
	return int64(s.available) - rm.config.SafetyReserveMemory
}

// CalculateMaxSessions 当前允许的最大会话数,至少为1
func (rm *ResourceMonitor) CalculateMaxSessions() int {
	usable := rm.usable(rm.snapshot())

	byMemory := 1
	if usable > rm.config.SafetyThreshold {
		byMemory = int((usable - rm.config.SafetyThreshold) / rm.config.SessionMemoryUsage)
	}
	return max(1, min(byMemory, runtime.NumCPU(), rm.config.MaxSessionsLimit))
}

// CheckResourceAvailability 是否允许再打开一个会话
func (rm *ResourceMonitor) CheckResourceAvailability() (canCreate bool, reason string) {
	s := rm.snapshot()
	if usable := rm.usable(s); usable < rm.config.SafetyThreshold {
		log.Warn().Msgf("可用内存不足(当前%dMB),会话创建受限", usable/mb)
		return false, fmt.Sprintf("内存不足(当前%dMB)", usable/mb)
	}
	if rm.config.CPULoadThreshold < 200 && s.cpu > float64(rm.config.CPULoadThreshold) {
		return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", s.cpu)
	}
	return true, ""
}

// GetMemoryStatus 当前内存状态
func (rm *ResourceMonitor) GetMemoryStatus() MemoryStatus {
	s := rm.snapshot()
	usable := rm.usable(s)

	pressure := "normal"
	switch {
	case usable < 200*mb:
		pressure = "emergency"
	case usable < 500*mb:
		pressure = "warning"
	}
	return MemoryStatus{TotalMemory: s.total, AvailableMemory: usable, MemoryPressure: pressure}
}
