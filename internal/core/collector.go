package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/CrawlGuard/internal/checkpoint"
	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/queue"
	"github.com/RecoveryAshes/CrawlGuard/internal/ratelimit"
	"github.com/RecoveryAshes/CrawlGuard/internal/resume"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// ErrRateLimited 协作方判定本次抓取触发了目标站点的限流/反爬
// PageProcessor返回此错误(或其包装)时,采集器施加惩罚并重试当前页,
// 不推进页码
var ErrRateLimited = errors.New("触发目标站点限流")

// PageResult 单个列表页的处理结果
type PageResult struct {
	ItemURLs    []string          // 本页提取到的条目URL
	Metadata    map[string]string // 附加到每个条目任务的元数据
	HasNextPage bool              // 是否还有下一页
}

// PageProcessor 列表页处理协作方
// 负责读取当前页内容并提取条目URL; 是否构成限流由它判定
// (返回ErrRateLimited),采集器自身不做任何推断
type PageProcessor interface {
	ProcessPage(ctx context.Context, pageNumber int) (*PageResult, error)
}

// CollectorOptions 采集器装配参数
type CollectorOptions struct {
	ListURL         string // 列表起始URL
	TaskDescription string // 任务描述(与ListURL共同构成谱系指纹)
	SaveEveryPages  int    // 每处理N页保存一次检查点
	MaxPages        int    // 页数上限,0表示不限
	MaxSkipPages    int    // 智能跳过策略的翻页上限
}

// Collector 列表页采集器
// 生产者侧的编排核心: 加载检查点 → 恢复速率状态 → 恢复爬取位置 →
// 逐页处理并发布条目任务 → 周期性保存检查点 → 生成运行报告。
//
// 速率控制、队列、检查点、恢复协调器都是注入的协作方,
// 采集器只负责把它们按正确顺序串起来
type Collector struct {
	rate        *ratelimit.Controller
	taskQueue   queue.Queue
	store       checkpoint.Store
	coordinator *resume.Coordinator
	driver      resume.PageDriver
	processor   PageProcessor
	opts        CollectorOptions

	fingerprint string
	snapshot    *models.CheckpointSnapshot
	collected   map[string]bool
}

// NewCollector 创建采集器
func NewCollector(
	rate *ratelimit.Controller,
	taskQueue queue.Queue,
	store checkpoint.Store,
	driver resume.PageDriver,
	processor PageProcessor,
	opts CollectorOptions,
) (*Collector, error) {
	if opts.ListURL == "" {
		return nil, fmt.Errorf("列表起始URL不能为空")
	}
	if err := models.ValidateURL(opts.ListURL); err != nil {
		return nil, fmt.Errorf("无效的列表URL: %w", err)
	}
	if opts.SaveEveryPages <= 0 {
		opts.SaveEveryPages = 1
	}

	return &Collector{
		rate:        rate,
		taskQueue:   taskQueue,
		store:       store,
		driver:      driver,
		processor:   processor,
		opts:        opts,
		fingerprint: models.TaskFingerprint(opts.ListURL, opts.TaskDescription),
		collected:   make(map[string]bool),
	}, nil
}

// Fingerprint 当前任务谱系指纹
func (c *Collector) Fingerprint() string {
	return c.fingerprint
}

// Run 执行采集任务
// ctx取消时保存检查点后干净退出,返回已有进度的报告
func (c *Collector) Run(ctx context.Context) (*models.CrawlRunReport, error) {
	startTime := time.Now()

	report := &models.CrawlRunReport{
		Fingerprint:     c.fingerprint,
		ListURL:         c.opts.ListURL,
		TaskDescription: c.opts.TaskDescription,
		StartTime:       startTime,
	}

	utils.Infof("🚀 开始采集任务")
	utils.Infof("列表URL: %s", c.opts.ListURL)
	utils.Infof("任务指纹: %s", c.fingerprint)

	// 加载检查点; 不存在或指纹不匹配时冷启动
	targetPage, err := c.loadProgress()
	if err != nil {
		return report, err
	}
	report.ResumedFromCheckpoint = targetPage > 1

	// 打开列表首页,再按需恢复位置
	if err := c.driver.NavigateToURL(c.opts.ListURL); err != nil {
		return report, fmt.Errorf("打开列表页失败: %w", err)
	}

	c.coordinator = resume.NewDefaultCoordinator(c.driver, c.opts.ListURL, c.collected, c.opts.MaxSkipPages)
	actualPage, err := c.coordinator.ResumeToPage(targetPage)
	if err != nil {
		// 全部恢复策略失败是本流程唯一的致命恢复错误
		return report, err
	}
	if report.ResumedFromCheckpoint {
		report.ResumeStrategy = c.coordinator.LastStrategy()
		report.ResumedAtPage = actualPage
		if actualPage < targetPage {
			utils.Warnf("实际到达第 %d 页, 比目标第 %d 页提前, 依靠队列去重避免重复采集",
				actualPage, targetPage)
		}
	}

	// 逐页采集
	runErr := c.collectPages(ctx, actualPage, report)

	// 退出前落盘最终进度
	if err := c.saveProgress(); err != nil {
		utils.Errorf("保存最终检查点失败: %v", err)
	}

	c.finalizeReport(report, startTime)
	return report, runErr
}

// loadProgress 加载检查点并恢复速率状态
// 返回应恢复到的页码(冷启动为1)
func (c *Collector) loadProgress() (int, error) {
	snapshot, err := c.store.Load(c.fingerprint)
	if err != nil {
		return 0, fmt.Errorf("加载检查点失败: %w", err)
	}

	if snapshot == nil {
		utils.Infof("未找到匹配检查点, 冷启动")
		c.snapshot = models.NewCheckpointSnapshot(c.fingerprint)
		return 1, nil
	}

	c.snapshot = snapshot
	c.collected = snapshot.CollectedSet()
	c.rate.Restore(snapshot.RateState)
	utils.Infof("加载检查点成功: 第 %d 页, 已采集 %d 条, 退避等级 %d",
		snapshot.CurrentPage, len(snapshot.CollectedItemIDs), c.rate.Level())
	return snapshot.CurrentPage, nil
}

// collectPages 从startPage开始逐页处理
func (c *Collector) collectPages(ctx context.Context, startPage int, report *models.CrawlRunReport) error {
	page := startPage
	pagesSinceSave := 0

	for {
		if c.opts.MaxPages > 0 && report.PagesProcessed >= c.opts.MaxPages {
			utils.Infof("达到页数上限 %d, 结束采集", c.opts.MaxPages)
			return nil
		}

		// 请求间延迟由速率控制器唯一决定
		if err := c.waitDelay(ctx); err != nil {
			utils.Warnf("采集被取消, 当前进度已到第 %d 页", page)
			return err
		}

		result, err := c.processor.ProcessPage(ctx, page)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				// 限流: 施加惩罚后重试当前页
				c.rate.ApplyPenalty()
				report.Penalties++
				continue
			}
			return fmt.Errorf("处理第 %d 页失败: %w", page, err)
		}

		published := c.publishItems(result)
		report.ItemsPublished += published
		report.PagesProcessed++
		c.rate.RecordSuccess()

		utils.Infof("第 %d 页处理完成: 发布 %d 个新任务", page, published)

		// 推进进度并按间隔保存检查点
		c.snapshot.CurrentPage = page + 1
		c.snapshot.RateState = c.rate.Snapshot()
		c.snapshot.UpdatedAt = time.Now()
		pagesSinceSave++
		if pagesSinceSave >= c.opts.SaveEveryPages {
			if err := c.saveProgress(); err != nil {
				utils.Errorf("保存检查点失败: %v", err)
			}
			pagesSinceSave = 0
		}

		if !result.HasNextPage {
			utils.Infof("列表已到最后一页, 采集完成")
			return nil
		}
		if err := c.driver.ClickNextPage(); err != nil {
			return fmt.Errorf("翻到第 %d 页失败: %w", page+1, err)
		}
		page++
	}
}

// publishItems 将本页条目发布到任务队列
// 队列按规范化URL哈希去重,重复发布为no-op; 同时登记到
// 已采集集合,供下次运行的智能跳过策略识别已见页面
func (c *Collector) publishItems(result *PageResult) int {
	published := 0
	for _, itemURL := range result.ItemURLs {
		isNew, err := c.taskQueue.Publish(itemURL, result.Metadata)
		if err != nil {
			utils.Errorf("发布任务失败 [%s]: %v", itemURL, err)
			continue
		}
		if isNew {
			published++
		}

		taskID := models.TaskIDForURL(itemURL)
		if !c.collected[taskID] {
			c.collected[taskID] = true
			c.snapshot.AddCollected(taskID)
		}
	}
	return published
}

// waitDelay 按速率控制器建议等待
func (c *Collector) waitDelay(ctx context.Context) error {
	delay := c.rate.GetDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// saveProgress 持久化当前快照
func (c *Collector) saveProgress() error {
	c.snapshot.RateState = c.rate.Snapshot()
	return c.store.Save(c.snapshot)
}

// finalizeReport 补全报告的收尾字段
func (c *Collector) finalizeReport(report *models.CrawlRunReport, startTime time.Time) {
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(startTime).Seconds()
	report.FinalRateLevel = c.rate.Level()

	if stats, err := c.taskQueue.Stats(); err == nil {
		report.Queue = stats
	} else {
		utils.Errorf("读取队列统计失败: %v", err)
	}
	if dead, err := c.taskQueue.DeadTasks(); err == nil && len(dead) > 0 {
		report.DeadTasks = dead
		utils.Warnf("存在 %d 个死信任务, 请人工排查", len(dead))
	}
}
