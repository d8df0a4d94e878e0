package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RecoveryAshes/ShelfHarvest/internal/catalog"
	"github.com/RecoveryAshes/ShelfHarvest/internal/crawlers"
	"github.com/RecoveryAshes/ShelfHarvest/internal/models"
	"github.com/RecoveryAshes/ShelfHarvest/internal/session"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

// monitorInterval 资源采样间隔
const monitorInterval = 5 * time.Second

// Harvester 主流程协调器
// 负责打开目录与标识日志、启动浏览器和会话池,然后并发运行探索者、工作者与下载器
type Harvester struct {
	cfg            *Config
	headerProvider models.HeaderProvider

	stats    *models.RunStats
	failures *crawlers.FailureLog
}

// pipeline 一次运行所需的已就绪组件
type pipeline struct {
	source  crawlers.IndexSource
	leases  []crawlers.SessionLease
	catalog crawlers.Catalog
	log     *crawlers.FrontierLog
	auth    crawlers.Authenticator
	headers http.Header
}

// NewHarvester 创建协调器
func NewHarvester(cfg *Config, headerProvider models.HeaderProvider) (*Harvester, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if headerProvider == nil {
		return nil, fmt.Errorf("头部提供者不能为空")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Harvester{
		cfg:            cfg,
		headerProvider: headerProvider,
		stats:          &models.RunStats{},
		failures:       &crawlers.FailureLog{},
	}, nil
}

// Stats 运行统计
func (h *Harvester) Stats() *models.RunStats {
	return h.stats
}

// Run 执行一次完整的采集
// 执行流程:
//  1. 打开目录与标识日志
//  2. 启动浏览器,按资源上限为每个工作者租用会话
//  3. 配置凭据时先登录
//  4. 并发运行探索者、工作者与下载器,直到全部退出
//  5. 写入运行报告
//
// 即使返回错误,报告也会尽量写出
func (h *Harvester) Run(ctx context.Context) (*models.RunReport, error) {
	report := h.newReport()

	utils.Infof("🚀 开始采集任务 [%s]", report.RunID)
	utils.Infof("索引地址: %s", h.cfg.Site.IndexURL)
	utils.Infof("输出目录: %s", h.cfg.Output.BaseDir)

	headers, err := h.headerProvider.GetHeaders()
	if err != nil {
		return nil, fmt.Errorf("准备HTTP头部失败: %w", err)
	}

	if err := os.MkdirAll(h.cfg.Output.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	store, err := catalog.Open(ctx, h.cfg.Catalog.Driver, h.cfg.CatalogDSN())
	if err != nil {
		return nil, err
	}
	defer store.Close()
	utils.Debugf("目录: %s %s", h.cfg.Catalog.Driver, utils.NewHeaderRedactor().RedactDSN(h.cfg.CatalogDSN()))

	flog, err := crawlers.OpenFrontierLog(h.cfg.FrontierLogPath())
	if err != nil {
		return nil, err
	}
	defer flog.Close()

	browser, err := session.LaunchBrowser(session.BrowserOptions{
		Headless:    h.cfg.Crawl.Headless,
		UserDataDir: h.cfg.Crawl.UserDataDir,
		ControlURL:  h.cfg.Browser.ControlURL,
		MaxRetries:  h.cfg.Browser.LaunchRetries,
	})
	if err != nil {
		return nil, err
	}
	defer session.CloseBrowser(browser)

	monitor := session.NewResourceMonitor(h.cfg.ResourceMonitorConfig())
	monitor.StartMonitoring(monitorInterval)
	defer monitor.StopMonitoring()

	pool := session.NewPool(browser, monitor, headers, h.cfg.Browser.PageTimeout)
	defer pool.Close()

	leases, err := h.leaseSessions(ctx, pool, h.workerCount(monitor))
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, l := range leases {
			l.Close()
		}
	}()

	var auth crawlers.Authenticator
	if h.cfg.Auth.HasCredentials() {
		auth = crawlers.NewFormAuthenticator(&h.cfg.Auth, h.attempts(), h.cfg.Crawl.RetryDelay, h.cfg.Crawl.PageSettle)
		// 同一浏览器内的标签页共享cookie,登录一次即可
		if err := auth.Authenticate(ctx, leases[0].Session()); err != nil {
			return nil, fmt.Errorf("登录失败: %w", err)
		}
	} else {
		utils.Warn("未配置登录凭据,会话掉线时条目将失败")
	}

	source, closeSource, err := h.indexSource(ctx, pool)
	if err != nil {
		return nil, err
	}
	defer closeSource()

	workerLeases := make([]crawlers.SessionLease, len(leases))
	for i, l := range leases {
		workerLeases[i] = l
	}

	runErr := h.execute(ctx, pipeline{
		source:  source,
		leases:  workerLeases,
		catalog: store,
		log:     flog,
		auth:    auth,
		headers: headers,
	}, report)

	h.writeReport(report)
	return report, runErr
}

func (h *Harvester) newReport() *models.RunReport {
	return &models.RunReport{
		RunID:     models.NewRunID(),
		IndexURL:  h.cfg.Site.IndexURL,
		StartTime: time.Now(),
		OutputDir: h.cfg.Output.BaseDir,
		Config:    h.cfg.Crawl,
	}
}

// workerCount 工作者数量不超过资源监控允许的会话数
func (h *Harvester) workerCount(monitor *session.ResourceMonitor) int {
	n := h.cfg.Crawl.Threads
	ms := monitor.GetMemoryStatus()
	utils.Debugf("内存: 可用 %dMB / 总计 %dMB, 压力 %s",
		ms.AvailableMemory/(1024*1024), ms.TotalMemory/(1024*1024), ms.MemoryPressure)
	if limit := monitor.CalculateMaxSessions(); limit < n {
		utils.Warnf("资源限制: 工作者数量从%d降为%d", n, limit)
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// leaseSessions 为每个工作者租用独占会话
// 部分会话打开失败时以已有的数量继续
func (h *Harvester) leaseSessions(ctx context.Context, pool *session.Pool, n int) ([]*session.Lease, error) {
	leases := make([]*session.Lease, 0, n)
	for i := 0; i < n; i++ {
		l, err := pool.Lease(ctx)
		if err != nil {
			if len(leases) == 0 {
				return nil, fmt.Errorf("无法打开浏览器会话: %w", err)
			}
			utils.Warnf("仅打开%d/%d个会话: %v", len(leases), n, err)
			break
		}
		leases = append(leases, l)
	}
	return leases, nil
}

// indexSource 按配置选择索引源
// 渲染模式下探索者使用单独的会话,不与工作者共享
func (h *Harvester) indexSource(ctx context.Context, pool *session.Pool) (crawlers.IndexSource, func(), error) {
	switch models.FrontierMode(h.cfg.Crawl.FrontierMode) {
	case models.FrontierStatic:
		return crawlers.NewStaticIndexSource(&h.cfg.Site, h.headerProvider, h.cfg.Browser.PageTimeout, h.cfg.Download.InsecureTLS), func() {}, nil
	default:
		l, err := pool.Lease(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("无法为索引探索打开会话: %w", err)
		}
		src := crawlers.NewRenderedIndexSource(l.Session(), &h.cfg.Site, h.attempts(), h.cfg.Crawl.RetryDelay)
		return src, l.Close, nil
	}
}

func (h *Harvester) attempts() int {
	return h.cfg.Crawl.MaxRetries + 1
}

// execute 运行探索者、工作者与下载器
// 各参与者开始前先在协调器登记,最后一个退出者关闭Done
func (h *Harvester) execute(ctx context.Context, p pipeline, report *models.RunReport) error {
	if len(p.leases) == 0 {
		return fmt.Errorf("没有可用的会话")
	}

	frontierQueue := crawlers.NewQueue[models.FrontierEntry]()
	assetQueue := crawlers.NewQueue[models.AssetRef]()
	coord := crawlers.NewCoordinator(frontierQueue, assetQueue, func() {
		utils.Info("探索、提取与下载均已结束")
	})

	frontier := crawlers.NewFrontier(p.source, p.log, frontierQueue, h.cfg.Frontier, h.stats)
	if h.cfg.Crawl.ResumePending {
		if _, err := frontier.ResumePending(ctx, p.catalog, &h.cfg.Site); err != nil {
			return err
		}
	}

	downloader, err := crawlers.NewDownloader(assetQueue, h.cfg.Download, p.headers, h.stats)
	if err != nil {
		return err
	}

	workers := make([]*crawlers.Worker, len(p.leases))
	for i, lease := range p.leases {
		workers[i] = crawlers.NewWorker(i+1, crawlers.WorkerDeps{
			Lease:    lease,
			Catalog:  p.catalog,
			Auth:     p.auth,
			Frontier: frontierQueue,
			Assets:   assetQueue,
			Stats:    h.stats,
			Failures: h.failures,
		}, crawlers.WorkerOptions{
			Crawl:     h.cfg.Crawl,
			Site:      &h.cfg.Site,
			AuthCfg:   &h.cfg.Auth,
			OutputDir: h.cfg.Output.BaseDir,
		})
	}
	utils.Infof("启动 %d 个工作者", len(workers))

	// 先登记全部参与者,避免先启动的goroutine提前触发完成
	coord.BeginExplore()
	for range workers {
		coord.BeginWorker()
	}
	coord.BeginDownload()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer coord.EndExplore()
		if err := frontier.Explore(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("索引探索失败: %w", err)
		}
		return nil
	})

	for _, w := range workers {
		g.Go(func() error {
			defer coord.EndWorker()
			return w.Run(gctx)
		})
	}

	g.Go(func() error {
		defer coord.EndDownload()
		return downloader.Run(gctx)
	})

	err = g.Wait()
	<-coord.Done()

	report.Assets = downloader.Files()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		utils.Warn("采集被中断")
	}
	return err
}

// writeReport 汇总统计并写出报告
func (h *Harvester) writeReport(report *models.RunReport) {
	report.EndTime = time.Now()
	report.Stats = h.stats.Snapshot()
	report.Stats.Duration = report.EndTime.Sub(report.StartTime).Seconds()
	report.FailedItems = h.failures.Items()

	s := report.Stats
	utils.Info("==================================================")
	utils.Infof("📊 采集完成: 发现 %d, 处理 %d", s.Discovered, s.Processed)
	utils.Infof("✅ 完成: %d  ⏭️  跳过: %d  ❌ 失败: %d", s.Done, s.Skipped, s.Failed)
	utils.Infof("📦 资源: %d (%.2f MB), 下载失败 %d", s.Assets, float64(s.AssetBytes)/(1024*1024), s.AssetFails)
	utils.Infof("⏱️  总耗时: %.2f秒", s.Duration)
	utils.Info("==================================================")

	if _, err := utils.WriteRunReport(h.cfg.Output.BaseDir, report); err != nil {
		utils.Warnf("生成报告失败: %v", err)
	}
}
