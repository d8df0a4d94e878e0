// Package crawlers 实现书架采集流水线: 索引探索、条目获取与资源下载
//
// # 概述
//
// 流水线由三组并发参与者组成,通过两条无界队列相连:
//
//	Frontier --(frontier队列)--> Worker x N --(资源队列)--> Downloader
//
// 探索者把新发现的条目先写入追加式日志再入队;工作者逐个驱动条目状态机,
// 把提取结果落盘并把发现的图片推入资源队列;下载器消费资源队列直到其关闭。
// Coordinator 统计三组参与者,最后一个退出者关闭完成信号。
//
// # 核心组件
//
// ## Queue
//
// 泛型无界队列。Pop在队列暂时为空时阻塞,只有队列关闭且取空后才返回false,
// 因此消费者不会在生产者仍在运行时提前退出。
//
//	q := NewQueue[models.FrontierEntry]()
//	entry, ok := q.Pop(ctx)
//
// ## Frontier / FrontierLog
//
// 逐页读取索引(RenderedIndexSource 使用浏览器会话,StaticIndexSource 使用Colly抓取静态HTML)。
// 每页最多重试 page_retries 次,两次尝试之间冷却 cooldown;
// 单页重试耗尽后跳到下一页,连续失败 max_failed_pages 页或超过 max_duration 后停止。
// 没有条目也没有下一页标记的页面是终止页。
//
//	log, _ := OpenFrontierLog("state/frontier.log")
//	f := NewFrontier(source, log, queue, cfg, stats)
//	err := f.Explore(ctx)
//
// ## Worker
//
// 单条目状态机:
//
//	DISCOVER_LAYOUT -> CLASSIFY_AVAILABILITY -> ACQUIRE -> PAGINATE_AND_EXTRACT -> PERSIST -> RELEASE -> DONE
//
// 每一步的瞬时错误(元素未出现、超时)在 max_retries 预算内重试;
// 会话崩溃时更换会话并从头开始一次,已捕获的片段保留;
// 翻页中掉线时重新登录并回到最后的阅读位置。
// 已有产物和目录记录的条目在预检阶段跳过,不打开任何页面。
//
// ## Downloader
//
// 基于resty的资源下载器。文件名取URL最后一段(去掉查询参数),
// 扩展名依次由URL、Content-Type、文件头判定;目录中已有同名前缀的文件时跳过。
//
// # 错误处理
//
//   - 瞬时错误: session.ErrNotFound / session.ErrTimeout,在步骤内重试
//   - 条目级错误: 包装为 *models.ItemError,记录失败后工作者继续下一个条目
//   - 进程级错误: 日志或产物无法写入,工作者返回错误并终止运行
//   - 数据完整性错误: 节点标识不是 prefix:suffix 形状但带有文本,条目失败并提示人工处理
//
// # 并发安全
//
//   - Queue / FrontierLog / Coordinator / FailureLog: sync.Mutex
//   - RunStats: atomic计数
//   - Worker: 每个工作者独占一个会话租约,互不共享页面
package crawlers
