package crawlers

import (
	"sync"

	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// Closer 可关闭的队列
type Closer interface {
	Close()
}

// Coordinator 完成协调器
// 分别统计探索者、工作者、下载器三组的活动数量,
// 最后一个退出的参与者关闭Done并触发一次完成回调
type Coordinator struct {
	mu          sync.Mutex
	explorers   int
	workers     int
	downloaders int
	started     bool

	frontier Closer
	assets   Closer

	done       chan struct{}
	once       sync.Once
	onComplete func()
}

// NewCoordinator 创建协调器
// frontier在探索结束时关闭,assets在最后一个工作者退出时关闭
func NewCoordinator(frontier, assets Closer, onComplete func()) *Coordinator {
	return &Coordinator{
		frontier:   frontier,
		assets:     assets,
		done:       make(chan struct{}),
		onComplete: onComplete,
	}
}

// Done 全部参与者退出后关闭
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// BeginExplore 探索者开始
func (c *Coordinator) BeginExplore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.explorers++
	c.started = true
}

// EndExplore 探索者结束,关闭frontier队列
func (c *Coordinator) EndExplore() {
	c.mu.Lock()
	c.explorers--
	last := c.explorers == 0
	c.mu.Unlock()

	if last && c.frontier != nil {
		utils.Debugf("探索结束,关闭frontier队列")
		c.frontier.Close()
	}
	c.checkDone()
}

// BeginWorker 工作者开始
func (c *Coordinator) BeginWorker() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers++
	c.started = true
}

// EndWorker 工作者结束;最后一个工作者关闭资源队列
func (c *Coordinator) EndWorker() {
	c.mu.Lock()
	c.workers--
	last := c.workers == 0
	c.mu.Unlock()

	if last && c.assets != nil {
		utils.Debugf("所有工作者已退出,关闭资源队列")
		c.assets.Close()
	}
	c.checkDone()
}

// BeginDownload 下载器开始
func (c *Coordinator) BeginDownload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloaders++
	c.started = true
}

// EndDownload 下载器结束
func (c *Coordinator) EndDownload() {
	c.mu.Lock()
	c.downloaders--
	c.mu.Unlock()
	c.checkDone()
}

// Exploring 是否仍有探索者活动
func (c *Coordinator) Exploring() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.explorers > 0
}

// WorkersActive 是否仍有工作者活动
func (c *Coordinator) WorkersActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workers > 0
}

// checkDone 最后一个退出者关灯
func (c *Coordinator) checkDone() {
	c.mu.Lock()
	idle := c.started && c.explorers == 0 && c.workers == 0 && c.downloaders == 0
	c.mu.Unlock()

	if !idle {
		return
	}
	c.once.Do(func() {
		close(c.done)
		if c.onComplete != nil {
			c.onComplete()
		}
	})
}
