package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/ShelfHarvest/internal/core"
	"github.com/RecoveryAshes/ShelfHarvest/internal/utils"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	logLevel   string

	// HTTP头部参数
	headers        []string
	headersConfig  string
	validateConfig bool

	// 采集参数
	indexURL      string
	indexFile     string
	modes         []string
	email         string
	password      string
	threads       int
	maxRetries    int
	force         bool
	outputDir     string
	headless      bool
	resumePending bool
	frontierMode  string

	// 批量处理参数
	batchDelay      time.Duration
	continueOnError bool
)

// appConfig 由PersistentPreRunE加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "shelfharvest",
	Short: "在线书架内容采集工具",
	Long: `ShelfHarvest - 在线书架并发采集工具

从分页索引发现条目,按可获取性分类并在允许时借阅或免费获取,
逐页翻阅阅读器提取带格式的文本片段与插图,结果写入本地目录:
  • 索引探索与追加式标识日志(可断点续爬)
  • 多会话并发工作者,掉线自动重新登录
  • 独立的插图下载队列
  • SQLite/PostgreSQL 目录存储
  • 批量处理多个索引

示例:
  # 使用配置文件中的站点定义
  shelfharvest -c configs/config.yaml

  # 指定索引与获取类别
  shelfharvest -u "https://shop.example.com/library?page=%d" --mode owned,free

  # 凭据通过环境变量提供
  SHELFHARVEST_AUTH_PASSWORD=secret shelfharvest --email reader@example.com

  # 验证配置文件
  shelfharvest --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 命令行参数覆盖配置文件
		config.MergeCLIFlags(core.CLIOverrides{LogLevel: logLevel})

		if err := utils.InitLogger(config.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Ctrl+C 取消上下文,各参与者退出后写出报告
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		headerManager, err := core.NewHeaderManager(headersConfig, headers)
		if err != nil {
			return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
		}

		if validateConfig {
			return runValidateConfig(headerManager)
		}

		// 如果没有提供任何索引,显示帮助信息
		if indexURL == "" && indexFile == "" && appConfig.Site.IndexURL == "" {
			return cmd.Help()
		}

		indexURL = NormalizeURL(indexURL)
		if err := ValidateFlags(indexURL, threads, modes, frontierMode); err != nil {
			return err
		}

		overrides := core.CLIOverrides{
			IndexURL:      indexURL,
			Modes:         modes,
			Email:         email,
			Password:      password,
			Threads:       threads,
			Force:         force,
			OutputDir:     outputDir,
			ResumePending: resumePending,
			FrontierMode:  frontierMode,
		}
		if cmd.Flags().Changed("max-retries") {
			overrides.MaxRetries = &maxRetries
		}
		if cmd.Flags().Changed("headless") {
			overrides.Headless = &headless
		}
		appConfig.MergeCLIFlags(overrides)
		headerManager.UseSite(appConfig.Site)

		// 批量处理模式
		if indexFile != "" {
			urls, err := utils.ReadURLsFromFile(indexFile)
			if err != nil {
				return fmt.Errorf("读取索引文件失败: %w", err)
			}
			runner := core.NewBatchRunner(appConfig, headerManager, batchDelay, continueOnError)
			if _, err := runner.RunBatch(ctx, urls); err != nil {
				if errors.Is(err, context.Canceled) {
					utils.Warn("批量采集已中断")
					return nil
				}
				return fmt.Errorf("批量采集失败: %w", err)
			}
			utils.Info("✨ 批量采集任务完成!")
			return nil
		}

		harvester, err := core.NewHarvester(appConfig, headerManager)
		if err != nil {
			return fmt.Errorf("创建采集器失败: %w", err)
		}
		if _, err := harvester.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				utils.Warn("采集已中断,进度已保存,可使用 --resume-pending 继续")
				return nil
			}
			return fmt.Errorf("采集失败: %w", err)
		}

		utils.Info("✨ 采集任务完成!")
		return nil
	},
}

// runValidateConfig 检查应用配置与HTTP头部配置,显示脱敏后的头部
func runValidateConfig(hm *core.HeaderManager) error {
	utils.Info("🔍 验证配置...")
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	if err := hm.LoadConfig(); err != nil {
		return fmt.Errorf("加载头部配置失败: %w", err)
	}
	if err := hm.Validate(); err != nil {
		return fmt.Errorf("头部配置验证失败: %w", err)
	}
	hm.UseSite(appConfig.Site)

	safeHeaders := hm.GetSafeHeaders()
	utils.Info("✅ 配置验证通过!")
	utils.Infof("目录: %s %s", appConfig.Catalog.Driver, utils.NewHeaderRedactor().RedactDSN(appConfig.CatalogDSN()))
	if appConfig.Auth.HasCredentials() {
		utils.Infof("登录账号: %s", utils.NewHeaderRedactor().RedactEmail(appConfig.Auth.Email))
	}
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for name, value := range safeHeaders {
		utils.Infof("  %s: %s", name, value)
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ShelfHarvest %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().StringVar(&headersConfig, "headers-config", "", "HTTP头部配置文件路径 (默认 configs/headers.yaml)")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 采集参数
	rootCmd.Flags().StringVarP(&indexURL, "index-url", "u", "", "索引地址,%d 为页码占位")
	rootCmd.Flags().StringVarP(&indexFile, "index-file", "f", "", "包含索引地址列表的文件路径")
	rootCmd.Flags().StringSliceVarP(&modes, "mode", "m", nil, "获取类别,逗号分隔 (owned|subscription|free),默认全部")
	rootCmd.Flags().StringVar(&email, "email", "", "登录邮箱")
	rootCmd.Flags().StringVar(&password, "password", "", "登录密码 (建议使用 SHELFHARVEST_AUTH_PASSWORD)")
	rootCmd.Flags().IntVar(&threads, "threads", 0, "工作者数量 (1-32)")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 3, "单步重试次数")
	rootCmd.Flags().BoolVar(&force, "force", false, "忽略目录记录强制重新处理")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "输出目录")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().BoolVar(&resumePending, "resume-pending", false, "重新入队标识日志中未完成的条目")
	rootCmd.Flags().StringVar(&frontierMode, "frontier-mode", "", "索引获取方式 (rendered|static)")

	// 批量处理参数
	rootCmd.Flags().DurationVar(&batchDelay, "batch-delay", time.Second, "批量处理索引间延迟")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
