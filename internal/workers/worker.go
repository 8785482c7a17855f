package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/queue"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// ItemProcessor 条目处理协作方
// worker池只负责领取/确认/失败上报,真正的条目抓取逻辑由调用方注入
type ItemProcessor interface {
	ProcessItem(ctx context.Context, delivery models.Delivery) error
}

// ItemProcessorFunc 函数适配器
type ItemProcessorFunc func(ctx context.Context, delivery models.Delivery) error

// ProcessItem 实现ItemProcessor接口
func (f ItemProcessorFunc) ProcessItem(ctx context.Context, delivery models.Delivery) error {
	return f(ctx, delivery)
}

// PoolConfig worker池配置
type PoolConfig struct {
	ConsumerPrefix  string        // 消费者ID前缀,例: "crawlguard"
	MaxWorkers      int           // 配置层给出的worker数上限
	ClaimBatchSize  int           // 单次Claim领取的任务数
	BlockTimeout    time.Duration // Claim阻塞等待时长
	MaxIdle         time.Duration // 租约空闲超时,超过即可被回收
	RecoverInterval time.Duration // 僵尸租约回收扫描间隔
}

// applyDefaults 填充零值配置
func (c *PoolConfig) applyDefaults() {
	if c.ConsumerPrefix == "" {
		c.ConsumerPrefix = "crawlguard"
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.ClaimBatchSize <= 0 {
		c.ClaimBatchSize = 1
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 2 * time.Second
	}
	if c.MaxIdle <= 0 {
		c.MaxIdle = 5 * time.Minute
	}
	if c.RecoverInterval <= 0 {
		c.RecoverInterval = 30 * time.Second
	}
}

// Pool 队列消费worker池
// 每个worker独立执行 Claim → ProcessItem → Ack/Fail 循环;
// 另有一个janitor goroutine定期回收崩溃消费者遗留的僵尸租约。
// 实际worker数取配置上限与资源监控器计算值中的较小者
type Pool struct {
	queue     queue.Queue
	processor ItemProcessor
	monitor   *ResourceMonitor
	config    PoolConfig

	// 统计计数
	processed int64
	failed    int64
	statsMu   sync.Mutex

	// OnProcessed 处理成功回调(可选),在Ack之后调用
	// 调用方用它把已完成的TaskID喂给检查点的已采集集合
	OnProcessed func(taskID string)
}

// NewPool 创建worker池
func NewPool(q queue.Queue, processor ItemProcessor, monitor *ResourceMonitor, config PoolConfig) *Pool {
	config.applyDefaults()
	return &Pool{
		queue:     q,
		processor: processor,
		monitor:   monitor,
		config:    config,
	}
}

// Run 启动worker池并阻塞到ctx取消
// 返回前保证所有worker已退出
func (p *Pool) Run(ctx context.Context) error {
	workerCount := p.config.MaxWorkers
	if p.monitor != nil {
		if limit := p.monitor.CalculateMaxWorkers(); limit < workerCount {
			utils.Warnf("资源受限, worker数从 %d 降到 %d", workerCount, limit)
			workerCount = limit
		}
	}
	if workerCount < 1 {
		workerCount = 1
	}

	utils.Infof("启动worker池: %d 个消费者", workerCount)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		consumerID := fmt.Sprintf("%s-worker-%d", p.config.ConsumerPrefix, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, consumerID)
		}()
	}

	// janitor回收僵尸租约
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitorLoop(ctx)
	}()

	wg.Wait()
	utils.Infof("worker池已退出: 成功 %d, 失败 %d", p.Processed(), p.Failed())
	return nil
}

// workerLoop 单个worker的主循环
func (p *Pool) workerLoop(ctx context.Context, consumerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		deliveries, err := p.queue.Claim(ctx, consumerID, p.config.ClaimBatchSize, p.config.BlockTimeout)
		if err != nil {
			if err == queue.ErrQueueClosed || ctx.Err() != nil {
				return
			}
			utils.Errorf("worker %s 领取任务失败: %v", consumerID, err)
			// 存储层故障,稍作等待再试
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, delivery := range deliveries {
			p.handleDelivery(ctx, consumerID, delivery)
		}
	}
}

// handleDelivery 处理单个投递项
func (p *Pool) handleDelivery(ctx context.Context, consumerID string, delivery models.Delivery) {
	err := p.processor.ProcessItem(ctx, delivery)
	if err != nil {
		utils.Warnf("worker %s 处理失败 [%s]: %v", consumerID, delivery.URL, err)
		if failErr := p.queue.Fail(delivery.DeliveryID, delivery.TaskID, err); failErr != nil {
			utils.Errorf("上报任务失败出错 [%s]: %v", delivery.TaskID, failErr)
		}
		p.statsMu.Lock()
		p.failed++
		p.statsMu.Unlock()
		return
	}

	if ackErr := p.queue.Ack(delivery.DeliveryID); ackErr != nil {
		utils.Errorf("确认任务出错 [%s]: %v", delivery.TaskID, ackErr)
		return
	}

	p.statsMu.Lock()
	p.processed++
	p.statsMu.Unlock()

	if p.OnProcessed != nil {
		p.OnProcessed(delivery.TaskID)
	}
}

// janitorLoop 定期回收空闲超时的投递租约
// 回收到的任务直接在janitor内处理,不再二次分发
func (p *Pool) janitorLoop(ctx context.Context) {
	consumerID := fmt.Sprintf("%s-janitor", p.config.ConsumerPrefix)
	ticker := time.NewTicker(p.config.RecoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := p.queue.RecoverStale(consumerID, p.config.MaxIdle)
			if err != nil {
				if err == queue.ErrQueueClosed {
					return
				}
				utils.Errorf("回收僵尸租约失败: %v", err)
				continue
			}
			if len(recovered) == 0 {
				continue
			}
			utils.Warnf("回收 %d 个僵尸租约", len(recovered))
			for _, delivery := range recovered {
				p.handleDelivery(ctx, consumerID, delivery)
			}
		}
	}
}

// Processed 已成功处理的任务数
func (p *Pool) Processed() int64 {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.processed
}

// Failed 处理失败的任务数
func (p *Pool) Failed() int64 {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.failed
}
