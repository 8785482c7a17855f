package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/CrawlGuard/internal/browser"
	"github.com/RecoveryAshes/CrawlGuard/internal/checkpoint"
	"github.com/RecoveryAshes/CrawlGuard/internal/core"
	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/queue"
	"github.com/RecoveryAshes/CrawlGuard/internal/ratelimit"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
	"github.com/RecoveryAshes/CrawlGuard/internal/workers"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// 采集参数
	listURL           string
	taskDescription   string
	maxPages          int
	baseDelay         float64
	maxRetries        int
	maxWorkers        int
	queueBackend      string
	checkpointBackend string
	headless          bool
	outputDir         string

	// 批量发布参数
	urlFile string
)

var rootCmd = &cobra.Command{
	Use:   "crawlguard",
	Short: "带限流自适应和断点恢复的列表页采集工具",
	Long: `CrawlGuard - 面向长时间运行采集任务的弹性引擎

围绕分页列表站点的采集提供四项核心能力:
  • 自适应速率控制: 乘性退避 + 阈值门控恢复
  • 可靠任务队列: URL去重发布、至少一次投递、死信隔离
  • 检查点存储: 按任务指纹保存进度,崩溃后原地续爬
  • 智能断点恢复: URL直达 / 跳页控件 / 逐页探测三级策略

同一(列表URL, 任务描述)组合构成一个任务谱系,中断后以相同参数
重新运行即自动从检查点恢复,无需额外标志。

示例:
  crawlguard -u https://example.com/list -T "商品列表采集"
  crawlguard -u https://example.com/list -T "商品列表采集" --queue-backend badger
  crawlguard stats --queue-backend badger

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 初始化日志系统
		logConfig := utils.LogConfig{
			Level:      config.Logging.Level,
			LogDir:     config.Logging.LogDir,
			MaxSize:    config.Logging.Rotation.MaxSize,
			MaxBackups: config.Logging.Rotation.MaxBackups,
			MaxAge:     config.Logging.Rotation.MaxAge,
			Compress:   config.Logging.Rotation.Compress,
		}

		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}

		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 如果没有提供列表URL,显示帮助信息
		if listURL == "" {
			return cmd.Help()
		}

		// 验证参数
		if err := ValidateFlags(listURL, taskDescription, maxPages, maxRetries, maxWorkers, queueBackend, checkpointBackend); err != nil {
			return err
		}

		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 命令行参数优先于配置文件
		appConfig.MergeCLIFlags(baseDelay, maxRetries, maxWorkers, queueBackend, checkpointBackend, headless)

		return runCollect(appConfig)
	},
}

// runCollect 执行采集任务的完整装配和运行
func runCollect(cfg *core.Config) error {
	// Ctrl+C优雅退出: 取消context,各组件落盘后退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 任务队列
	taskQueue, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer taskQueue.Close()

	// 检查点存储
	store, err := buildCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// 速率控制器
	rate := ratelimit.NewController(ratelimit.Config{
		BaseDelay:         cfg.Rate.BaseDelay,
		BackoffFactor:     cfg.Rate.BackoffFactor,
		MaxLevel:          cfg.Rate.MaxLevel,
		RecoveryThreshold: cfg.Rate.RecoveryThreshold,
	})

	// 浏览器会话
	session, err := browser.NewSession(cfg.Browser.Headless)
	if err != nil {
		return err
	}
	defer session.Close()

	selectors := selectorsFromConfig(cfg.Browser)
	driver := browser.NewRodPageDriver(session.Page(), selectors)
	processor := browser.NewListPageProcessor(session.Page(), selectors)

	collector, err := core.NewCollector(rate, taskQueue, store, driver, processor, core.CollectorOptions{
		ListURL:         listURL,
		TaskDescription: taskDescription,
		SaveEveryPages:  cfg.Checkpoint.SaveEveryPages,
		MaxPages:        maxPages,
		MaxSkipPages:    cfg.Resume.MaxSkipPages,
	})
	if err != nil {
		return fmt.Errorf("创建采集器失败: %w", err)
	}

	// 资源监控器(可选)
	var monitor *workers.ResourceMonitor
	if cfg.Workers.ResourceMonitorOn {
		monitor = workers.NewResourceMonitor(workers.ResourceMonitorConfig{
			SafetyReserveMemory: int64(cfg.Workers.SafetyReserveMB) * 1024 * 1024,
			SafetyThreshold:     int64(cfg.Workers.SafetyThresholdMB) * 1024 * 1024,
			CPULoadThreshold:    cfg.Workers.CPULoadThreshold,
			MaxWorkersLimit:     cfg.Workers.MaxWorkers,
			WorkerMemoryUsage:   int64(cfg.Workers.WorkerMemoryUsageMB) * 1024 * 1024,
		})
		monitor.StartMonitoring(5 * time.Second)
		defer monitor.StopMonitoring()
	}

	// 条目处理worker池
	saver, err := browser.NewItemSaver(session.Browser(), outputDir)
	if err != nil {
		return err
	}
	pool := workers.NewPool(taskQueue, saver, monitor, workers.PoolConfig{
		ConsumerPrefix:  "crawlguard",
		MaxWorkers:      cfg.Workers.MaxWorkers,
		ClaimBatchSize:  cfg.Workers.ClaimBatchSize,
		BlockTimeout:    cfg.Queue.BlockTimeout(),
		MaxIdle:         cfg.Queue.MaxIdle(),
		RecoverInterval: cfg.Queue.RecoverInterval(),
	})

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := pool.Run(workerCtx); err != nil {
			utils.Errorf("worker池异常退出: %v", err)
		}
	}()

	// 生产者主流程
	report, runErr := collector.Run(ctx)

	// 列表采集完成后等worker排空队列,再停池
	if runErr == nil {
		drainQueue(ctx, taskQueue)
	}
	cancelWorkers()
	wg.Wait()

	// 生成运行报告
	if report != nil {
		if stats, err := taskQueue.Stats(); err == nil {
			report.Queue = stats
		}
		reporter := utils.NewReporter(outputDir)
		if err := reporter.GenerateReport(report); err != nil {
			utils.Errorf("生成运行报告失败: %v", err)
		}
		printSummary(report)
	}

	if runErr != nil {
		return fmt.Errorf("采集失败: %w", runErr)
	}
	utils.Info("✨ 采集任务完成!")
	return nil
}

// buildQueue 按配置构建任务队列后端
func buildQueue(cfg *core.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "memory":
		return queue.NewMemoryQueue(cfg.Queue.MaxRetries), nil
	case "badger":
		q, err := queue.NewBadgerQueue(cfg.Queue.DataDir, cfg.Queue.MaxRetries)
		if err != nil {
			return nil, fmt.Errorf("打开队列存储失败: %w", err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("不支持的队列后端: %s", cfg.Queue.Backend)
	}
}

// buildCheckpointStore 按配置构建检查点存储后端
func buildCheckpointStore(cfg *core.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "file":
		s, err := checkpoint.NewFileStore(cfg.Checkpoint.Dir)
		if err != nil {
			return nil, fmt.Errorf("打开检查点目录失败: %w", err)
		}
		return s, nil
	case "badger":
		s, err := checkpoint.NewBadgerStore(cfg.Checkpoint.DataDir)
		if err != nil {
			return nil, fmt.Errorf("打开检查点存储失败: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("不支持的检查点后端: %s", cfg.Checkpoint.Backend)
	}
}

// selectorsFromConfig 配置到浏览器选择器的映射
func selectorsFromConfig(cfg core.BrowserConfig) browser.Selectors {
	selectors := browser.DefaultSelectors()
	if cfg.ItemLinks != "" {
		selectors.ItemLinks = cfg.ItemLinks
	}
	if cfg.FirstItemLink != "" {
		selectors.FirstItemLink = cfg.FirstItemLink
	}
	if cfg.NextPageButton != "" {
		selectors.NextPageButton = cfg.NextPageButton
	}
	if cfg.JumpInput != "" {
		selectors.JumpInput = cfg.JumpInput
	}
	if cfg.JumpSubmit != "" {
		selectors.JumpSubmit = cfg.JumpSubmit
	}
	if cfg.ActivePage != "" {
		selectors.ActivePage = cfg.ActivePage
	}
	if cfg.RateLimitMarker != "" {
		selectors.RateLimitMarker = cfg.RateLimitMarker
	}
	return selectors
}

// drainQueue 等待worker把队列处理空
// 最多等待5分钟,避免死信之外的异常情况卡住退出
func drainQueue(ctx context.Context, taskQueue queue.Queue) {
	deadline := time.After(5 * time.Minute)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			utils.Warnf("等待队列排空超时, 剩余任务将在下次运行继续")
			return
		case <-ticker.C:
			stats, err := taskQueue.Stats()
			if err != nil {
				return
			}
			if stats.Pending == 0 && stats.InFlight == 0 {
				return
			}
		}
	}
}

// printSummary 打印运行统计
func printSummary(report *models.CrawlRunReport) {
	fmt.Println("\n==================================================")
	fmt.Println("📊 采集统计")
	fmt.Println("==================================================")
	if report.ResumedFromCheckpoint {
		fmt.Printf("♻️  从检查点恢复: 策略 %s, 到达第 %d 页\n", report.ResumeStrategy, report.ResumedAtPage)
	}
	fmt.Printf("✅ 处理页数: %d\n", report.PagesProcessed)
	fmt.Printf("✅ 新发布任务: %d\n", report.ItemsPublished)
	fmt.Printf("✅ 已完成任务: %d\n", report.Queue.Done)
	fmt.Printf("⚠️  限流惩罚次数: %d (结束时退避等级 %d)\n", report.Penalties, report.FinalRateLevel)
	if report.Queue.Dead > 0 {
		fmt.Printf("❌ 死信任务: %d (crawlguard stats 查看详情)\n", report.Queue.Dead)
	}
	fmt.Printf("⏱️  总耗时: %s\n", utils.FormatDuration(report.Duration))
	fmt.Println("==================================================")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CrawlGuard %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
		fmt.Println("长时间采集任务的弹性引擎")
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "从文件批量发布条目URL到任务队列",
	Long: `从文本文件读取URL列表(每行一个, #开头为注释)并发布到持久化队列,
供后续运行的worker池消费; 队列按规范化URL去重,重复发布自动跳过`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if urlFile == "" {
			return fmt.Errorf("请用 -f 指定URL文件")
		}

		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		if queueBackend != "" {
			appConfig.Queue.Backend = queueBackend
		}
		if appConfig.Queue.Backend != "badger" {
			return fmt.Errorf("批量发布需要持久化队列后端, 请使用 --queue-backend badger")
		}

		urls, err := utils.ReadURLsFromFile(urlFile)
		if err != nil {
			return fmt.Errorf("读取URL文件失败: %w", err)
		}

		taskQueue, err := buildQueue(appConfig)
		if err != nil {
			return err
		}
		defer taskQueue.Close()

		bar := utils.NewProgressBar(len(urls), "发布任务")
		published := 0
		for _, u := range urls {
			isNew, err := taskQueue.Publish(u, nil)
			if err != nil {
				utils.Errorf("发布失败 [%s]: %v", u, err)
				continue
			}
			if isNew {
				published++
			}
			_ = bar.Add(1)
		}

		fmt.Printf("\n✅ 新发布 %d 个任务 (%d 个已存在, 自动跳过)\n", published, len(urls)-published)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "查看队列统计和死信任务",
	Long:  "读取持久化队列的任务统计和死信列表; 仅badger后端有跨运行数据",
	RunE: func(cmd *cobra.Command, args []string) error {
		appConfig, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		if queueBackend != "" {
			appConfig.Queue.Backend = queueBackend
		}
		if appConfig.Queue.Backend != "badger" {
			return fmt.Errorf("stats需要持久化队列后端, 请使用 --queue-backend badger")
		}

		taskQueue, err := buildQueue(appConfig)
		if err != nil {
			return err
		}
		defer taskQueue.Close()

		stats, err := taskQueue.Stats()
		if err != nil {
			return fmt.Errorf("读取队列统计失败: %w", err)
		}

		fmt.Println("📊 队列统计")
		fmt.Printf("  待领取:  %d\n", stats.Pending)
		fmt.Printf("  处理中:  %d\n", stats.InFlight)
		fmt.Printf("  已完成:  %d\n", stats.Done)
		fmt.Printf("  死信:    %d\n", stats.Dead)
		fmt.Printf("  总计:    %d\n", stats.Total())

		dead, err := taskQueue.DeadTasks()
		if err != nil {
			return fmt.Errorf("读取死信任务失败: %w", err)
		}
		if len(dead) > 0 {
			fmt.Println("\n❌ 死信任务:")
			for _, task := range dead {
				fmt.Printf("  [%s] %s (尝试%d次, 最后错误: %s)\n",
					task.TaskID[:8], task.URL, task.AttemptCount, task.LastError)
			}
		}
		return nil
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&queueBackend, "queue-backend", "", "队列后端 (memory|badger)")

	// 采集参数
	rootCmd.Flags().StringVarP(&listURL, "url", "u", "", "列表起始URL (必需)")
	rootCmd.Flags().StringVarP(&taskDescription, "description", "T", "", "任务描述, 与URL共同构成任务谱系指纹")
	rootCmd.Flags().IntVar(&maxPages, "max-pages", 0, "本次运行处理的最大页数 (0为不限)")
	rootCmd.Flags().Float64Var(&baseDelay, "base-delay", 0, "基础请求延迟(秒), 覆盖配置文件")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "任务失败重试上限, 覆盖配置文件")
	rootCmd.Flags().IntVar(&maxWorkers, "workers", 0, "条目处理worker数, 覆盖配置文件")
	rootCmd.Flags().StringVar(&checkpointBackend, "checkpoint-backend", "", "检查点后端 (file|badger)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "output", "输出目录")

	// publish参数
	publishCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
