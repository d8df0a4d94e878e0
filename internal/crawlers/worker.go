package crawlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/ShelfHarvest/internal/extract"
	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

var (
	// ErrItemFailed 条目处理中发生panic
	ErrItemFailed = errors.New("条目处理异常")
	// ErrPageStructureAbsent 必需的页面结构完全缺失
	ErrPageStructureAbsent = errors.New("页面结构缺失")
	// ErrAcquireUnverified 获取动作后未出现确认标记
	ErrAcquireUnverified = errors.New("获取未能确认")
	// ErrDeauthenticated 会话已掉线且无法重新登录
	ErrDeauthenticated = errors.New("会话已掉线")
)

// maxCrashRestarts 单个条目因浏览器崩溃重新开始的次数上限
const maxCrashRestarts = 1

// Catalog 工作者与探索器使用的目录端口
type Catalog interface {
	GetCatalogEntry(ctx context.Context, assetID string) (*models.CatalogEntry, error)
	UpsertCatalogEntry(ctx context.Context, entry *models.CatalogEntry) error
	UpsertExtraction(ctx context.Context, rec *models.ExtractionRecord) error
	ExtractionStatus(ctx context.Context, itemID string) (*models.ExtractionRecord, error)
	RecordExists(ctx context.Context, table, key, value string) (bool, error)
}

// SessionLease 工作者独占的会话
type SessionLease interface {
	Session() session.Session
	Succeeded()
	Failed() (dirty bool)
	Renew(ctx context.Context) (session.Session, error)
}

// FailureLog 失败条目汇总(用于运行报告)
type FailureLog struct {
	mu    sync.Mutex
	items []models.FailedItem
}

// Add 记录失败
func (l *FailureLog) Add(err *models.ItemError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, models.FailedItem{
		ItemID:     err.ItemID,
		State:      err.State,
		ErrorClass: err.Class,
		ErrorMsg:   fmt.Sprint(err.Cause),
	})
}

// Items 全部失败条目
func (l *FailureLog) Items() []models.FailedItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.FailedItem(nil), l.items...)
}

// WorkerDeps 工作者依赖
type WorkerDeps struct {
	Lease    SessionLease
	Catalog  Catalog
	Auth     Authenticator
	Frontier *Queue[models.FrontierEntry]
	Assets   *Queue[models.AssetRef]
	Stats    *models.RunStats
	Failures *FailureLog
}

// WorkerOptions 工作者配置
type WorkerOptions struct {
	Crawl     models.CrawlConfig
	Site      *models.SiteProfile
	AuthCfg   *models.AuthConfig
	OutputDir string
}

// Worker 获取工作者
// 从frontier队列逐个取出条目,驱动单条目状态机
type Worker struct {
	id   int
	deps WorkerDeps
	opts WorkerOptions
	log  zerolog.Logger
	now  func() time.Time
}

// NewWorker 创建工作者
func NewWorker(id int, deps WorkerDeps, opts WorkerOptions) *Worker {
	if deps.Stats == nil {
		deps.Stats = &models.RunStats{}
	}
	if deps.Failures == nil {
		deps.Failures = &FailureLog{}
	}
	if opts.Site == nil {
		opts.Site = &models.SiteProfile{}
	}
	return &Worker{id: id, deps: deps, opts: opts, log: utils.WorkerLogger(id), now: time.Now}
}

// Run 处理条目直到frontier队列关闭且取空
// 单个条目失败不会终止循环,只有进程级错误会返回
func (w *Worker) Run(ctx context.Context) error {
	w.log.Debug().Msg("工作者启动")
	defer w.log.Debug().Msg("工作者退出")

	for {
		entry, ok := w.deps.Frontier.Pop(ctx)
		if !ok {
			return ctx.Err()
		}

		state, err := w.Process(ctx, entry)
		w.deps.Stats.Processed.Add(1)

		switch state {
		case models.StateDone:
			w.deps.Stats.Done.Add(1)
		case models.StateSkipped:
			w.deps.Stats.Skipped.Add(1)
		default:
			w.deps.Stats.Failed.Add(1)
		}

		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ie *models.ItemError
		if errors.As(err, &ie) {
			w.deps.Failures.Add(ie)
		}
		if models.IsProcessFatal(err) {
			utils.Errorf("工作者%d遇到进程级错误,停止: %v", w.id, err)
			return err
		}
	}
}

// ArtifactPath 条目输出文件路径 <out>/<itemID>/<itemID>.txt
func ArtifactPath(outputDir, itemID string) string {
	name := SanitizeFileName(itemID)
	return filepath.Join(outputDir, name, name+".txt")
}

// ShouldSkip 预检: 目录中已有记录且(产物已存在或不可用分类尚未过期)
func (w *Worker) ShouldSkip(ctx context.Context, entry models.FrontierEntry) (bool, error) {
	if w.opts.Crawl.Force {
		return false, nil
	}
	identity := entry.Identity()

	if _, err := os.Stat(ArtifactPath(w.opts.OutputDir, entry.ItemID)); err == nil {
		exists, err := w.deps.Catalog.RecordExists(ctx, "catalog_entries", "asset_id", identity)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}

	prior, err := w.deps.Catalog.GetCatalogEntry(ctx, identity)
	if err != nil {
		return false, err
	}
	return prior.FreshlyUnavailable(w.now(), w.opts.Crawl.StalenessWindow()), nil
}

// Process 驱动单个条目的状态机
// 返回终止状态;失败时返回*models.ItemError
func (w *Worker) Process(ctx context.Context, entry models.FrontierEntry) (state models.ItemState, err error) {
	run := w.newRun(entry)

	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("条目 %s 处理时panic: %v\n%s", entry.ItemID, r, debug.Stack())
			state = models.StateFailed
			err = &models.ItemError{
				ItemID: entry.ItemID,
				State:  run.state,
				Class:  models.ErrorItemFatal,
				Cause:  fmt.Errorf("%w: %v", ErrItemFailed, r),
			}
		}
	}()

	skip, err := w.ShouldSkip(ctx, entry)
	if err != nil {
		return w.fail(run, err)
	}
	if skip {
		w.log.Info().Str("item", entry.ItemID).Msg("预检跳过")
		return models.StateSkipped, nil
	}

	restarts := 0
	run.state = models.StateDiscoverLayout
	for !run.state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return w.fail(run, err)
		}

		sess := w.deps.Lease.Session()
		if sess == nil {
			return w.fail(run, fmt.Errorf("%w: 没有可用会话", session.ErrBrowserCrashed))
		}
		run.sess = sess

		next, err := w.step(ctx, run)
		if err == nil {
			w.log.Debug().Str("item", entry.ItemID).Msgf("%s -> %s", run.state, next)
			run.state = next
			continue
		}

		if errors.Is(err, session.ErrBrowserCrashed) && restarts < maxCrashRestarts && ctx.Err() == nil {
			restarts++
			w.deps.Stats.Restarts.Add(1)
			utils.Warnf("条目 %s 所在会话崩溃,更换会话后重新开始", entry.ItemID)
			if _, rerr := w.deps.Lease.Renew(ctx); rerr != nil {
				return w.fail(run, rerr)
			}
			run.reset()
			run.state = models.StateDiscoverLayout
			continue
		}
		return w.fail(run, err)
	}

	if run.state == models.StateDone {
		w.deps.Lease.Succeeded()
	}
	return run.state, nil
}

// step 执行当前状态,瞬时错误在重试预算内重试
func (w *Worker) step(ctx context.Context, run *itemRun) (models.ItemState, error) {
	var next models.ItemState
	fn := func() error {
		var err error
		switch run.state {
		case models.StateDiscoverLayout:
			next, err = w.discoverLayout(ctx, run)
		case models.StateClassifyAvailability:
			next, err = w.classify(ctx, run)
		case models.StateAcquire:
			next, err = w.acquire(ctx, run)
		case models.StatePaginateAndExtract:
			next, err = w.paginate(ctx, run)
		case models.StatePersist:
			next, err = w.persist(ctx, run)
		case models.StateRelease:
			next = w.release(ctx, run)
		default:
			err = fmt.Errorf("未知状态: %s", run.state)
		}
		return err
	}

	if err := session.Retry(ctx, w.attempts(), w.opts.Crawl.RetryDelay, fn); err != nil {
		return models.StateFailed, err
	}
	return next, nil
}

func (w *Worker) attempts() int {
	return w.opts.Crawl.MaxRetries + 1
}

// stepWait 由step驱动的状态内只查找一次,未找到时返回瞬时错误交给step重试
// discoverLayout 最终返回非瞬时错误、release 不返回错误,二者仍使用完整的等待预算
func (w *Worker) stepWait(ctx context.Context, run *itemRun, selector string) (session.Node, error) {
	return session.WaitFor(ctx, run.sess, selector, 1, 0)
}

// fail 记录失败并包装为ItemError
func (w *Worker) fail(run *itemRun, err error) (models.ItemState, error) {
	var ie *models.ItemError
	if !errors.As(err, &ie) {
		ie = &models.ItemError{ItemID: run.entry.ItemID, State: run.state, Class: models.ErrorItemFatal, Cause: err}
	}

	var die *models.DataIntegrityError
	if errors.As(err, &die) {
		w.log.Error().Str("item", ie.ItemID).Str("node", die.NodeID).Msgf("数据完整性错误,需要人工处理: %q", die.Excerpt)
	}
	utils.LogItemError(w.log, ie)

	if ie.Class != models.ErrorProcessFatal && !cancelled(err) && w.deps.Lease.Failed() {
		if _, rerr := w.deps.Lease.Renew(context.Background()); rerr != nil {
			utils.Warnf("更换会话失败: %v", rerr)
		}
	}

	if ie.Class != models.ErrorProcessFatal {
		rec := &models.ExtractionRecord{ItemID: run.entry.ItemID, AssetID: run.identity, Status: models.ExtractionFailed, UpdatedAt: w.now()}
		if uerr := w.deps.Catalog.UpsertExtraction(context.Background(), rec); uerr != nil {
			utils.Warnf("写入提取状态失败 [%s]: %v", run.entry.ItemID, uerr)
		}
	}
	return models.StateFailed, ie
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// itemRun 单个条目一次处理的可变状态
type itemRun struct {
	entry    models.FrontierEntry
	identity string
	state    models.ItemState
	sess     session.Session

	detailURL string
	assetID   string
	title     string
	class     models.Classification
	price     *string

	engine       *extract.Engine
	readerURL    string
	readerOpened bool
	rewound      bool
	pages        int
	reauths      int

	outDir   string
	artifact string
}

func (w *Worker) newRun(entry models.FrontierEntry) *itemRun {
	run := &itemRun{
		entry:    entry,
		identity: entry.Identity(),
		artifact: ArtifactPath(w.opts.OutputDir, entry.ItemID),
	}
	run.outDir = filepath.Dir(run.artifact)
	run.engine = w.newEngine(run)
	return run
}

func (w *Worker) newEngine(run *itemRun) *extract.Engine {
	return extract.NewEngine(extract.Options{
		ItemID:         run.entry.ItemID,
		FormattingTags: w.opts.Site.FormattingTags,
		IDAttribute:    w.opts.Site.ContentIDAttr,
		SourceFolder:   run.outDir,
	})
}

// reset 换会话后从头开始,已捕获的片段保留
func (r *itemRun) reset() {
	r.readerURL = ""
	r.readerOpened = false
	r.rewound = false
	r.pages = 0
	r.reauths = 0
}
