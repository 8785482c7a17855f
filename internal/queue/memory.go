package queue

import (
	"context"
	"sync"
	"time"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// MemoryQueue 进程内队列实现
// 适用于单进程多worker场景; 任务记录、日志主干和投递租约
// 全部由一把互斥锁保护,天然满足操作间原子性要求
type MemoryQueue struct {
	mu sync.Mutex

	// 任务记录: task_id -> 记录(含done/dead历史,永不删除)
	tasks map[string]*models.TaskRecord

	// 追加有序日志主干,元素为task_id; 重新入队会追加新条目
	log []string

	// 下一个未领取的日志位置
	cursor int

	// 投递租约: delivery_id -> 租约
	deliveries map[string]*models.DeliveryEntry

	// 唤醒阻塞中的Claim
	notify chan struct{}

	// 最大重试次数
	maxRetries int

	closed bool
}

// NewMemoryQueue 创建进程内队列
func NewMemoryQueue(maxRetries int) *MemoryQueue {
	return &MemoryQueue{
		tasks:      make(map[string]*models.TaskRecord),
		deliveries: make(map[string]*models.DeliveryEntry),
		log:        make([]string, 0, 256),
		notify:     make(chan struct{}, 1),
		maxRetries: maxRetries,
	}
}

// Publish 发布单个URL
func (q *MemoryQueue) Publish(url string, metadata map[string]string) (bool, error) {
	taskID := models.TaskIDForURL(url)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}

	// 去重点: 任意状态下已存在即no-op
	if _, exists := q.tasks[taskID]; exists {
		return false, nil
	}

	now := time.Now()
	q.tasks[taskID] = &models.TaskRecord{
		TaskID:    taskID,
		URL:       url,
		Metadata:  metadata,
		State:     models.TaskStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.log = append(q.log, taskID)
	q.signal()

	return true, nil
}

// PublishBatch 批量发布,逐项原子
func (q *MemoryQueue) PublishBatch(urls []string, metadatas []map[string]string) (int, error) {
	published := 0
	for i, url := range urls {
		var metadata map[string]string
		if i < len(metadatas) {
			metadata = metadatas[i]
		}
		ok, err := q.Publish(url, metadata)
		if err != nil {
			return published, err
		}
		if ok {
			published++
		}
	}
	return published, nil
}

// Claim 领取任务
func (q *MemoryQueue) Claim(ctx context.Context, consumerID string, maxItems int, blockTimeout time.Duration) ([]models.Delivery, error) {
	if maxItems <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(blockTimeout)
	for {
		deliveries, err := q.tryClaim(consumerID, maxItems)
		if err != nil {
			return nil, err
		}
		if len(deliveries) > 0 {
			return deliveries, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			// 超时返回空列表,"没有任务"不是错误
			return []models.Delivery{}, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return []models.Delivery{}, nil
		case <-timer.C:
			return []models.Delivery{}, nil
		case <-q.notify:
			timer.Stop()
			// 有新任务,回到循环再次尝试
		}
	}
}

// tryClaim 单次领取尝试
func (q *MemoryQueue) tryClaim(consumerID string, maxItems int) ([]models.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	deliveries := make([]models.Delivery, 0, maxItems)
	now := time.Now()

	for q.cursor < len(q.log) && len(deliveries) < maxItems {
		taskID := q.log[q.cursor]
		q.cursor++

		task, ok := q.tasks[taskID]
		if !ok || task.State != models.TaskStatePending {
			// 过期日志条目(任务已被领取/完成),跳过
			continue
		}

		task.State = models.TaskStateInFlight
		task.UpdatedAt = now

		entry := &models.DeliveryEntry{
			DeliveryID: models.GenerateDeliveryID(),
			ConsumerID: consumerID,
			TaskID:     taskID,
			ClaimedAt:  now,
		}
		q.deliveries[entry.DeliveryID] = entry

		deliveries = append(deliveries, models.Delivery{
			DeliveryID: entry.DeliveryID,
			TaskID:     taskID,
			URL:        task.URL,
			Metadata:   task.Metadata,
		})
	}

	return deliveries, nil
}

// Ack 确认投递完成
func (q *MemoryQueue) Ack(deliveryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	entry, ok := q.deliveries[deliveryID]
	if !ok {
		// 未知或已确认的投递,no-op
		return nil
	}

	delete(q.deliveries, deliveryID)

	if task, ok := q.tasks[entry.TaskID]; ok {
		task.State = models.TaskStateDone
		task.UpdatedAt = time.Now()
	}
	return nil
}

// Fail 报告投递失败
func (q *MemoryQueue) Fail(deliveryID, taskID string, taskErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	// 与Ack对称: 租约不存在或已被RecoverStale转移时,
	// 僵尸消费者的失败上报不得触碰任务
	entry, ok := q.deliveries[deliveryID]
	if !ok || entry.TaskID != taskID {
		return nil
	}
	delete(q.deliveries, deliveryID)

	task, ok := q.tasks[taskID]
	if !ok || task.State != models.TaskStateInFlight {
		return nil
	}

	task.AttemptCount++
	task.UpdatedAt = time.Now()
	if taskErr != nil {
		task.LastError = taskErr.Error()
	}

	if task.AttemptCount < q.maxRetries {
		// 重新入队: 追加新的日志条目
		task.State = models.TaskStatePending
		q.log = append(q.log, taskID)
		q.signal()
		utils.Debugf("任务重新入队: %s (第%d次尝试)", taskID, task.AttemptCount)
	} else {
		// 重试耗尽,进入死信,永不自动重试
		task.State = models.TaskStateDead
		utils.Warnf("任务进入死信: %s (尝试%d次, 最后错误: %s)", taskID, task.AttemptCount, task.LastError)
	}
	return nil
}

// RecoverStale 回收超时租约
func (q *MemoryQueue) RecoverStale(consumerID string, maxIdle time.Duration) ([]models.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	recovered := make([]models.Delivery, 0)

	for id, entry := range q.deliveries {
		if now.Sub(entry.ClaimedAt) <= maxIdle {
			continue
		}

		task, ok := q.tasks[entry.TaskID]
		if !ok || task.State != models.TaskStateInFlight {
			// 孤儿租约(任务已不在in_flight),清除但不转移
			delete(q.deliveries, id)
			continue
		}

		// 转移租约: 删除旧条目,为新消费者建立新条目
		delete(q.deliveries, id)
		fresh := &models.DeliveryEntry{
			DeliveryID: models.GenerateDeliveryID(),
			ConsumerID: consumerID,
			TaskID:     entry.TaskID,
			ClaimedAt:  now,
		}
		q.deliveries[fresh.DeliveryID] = fresh

		recovered = append(recovered, models.Delivery{
			DeliveryID: fresh.DeliveryID,
			TaskID:     entry.TaskID,
			URL:        task.URL,
			Metadata:   task.Metadata,
		})

		utils.Warnf("回收超时投递: 任务 %s 从 %s 转移至 %s (空闲 %.0f秒)",
			entry.TaskID, entry.ConsumerID, consumerID, now.Sub(entry.ClaimedAt).Seconds())
	}

	return recovered, nil
}

// Stats 队列统计
func (q *MemoryQueue) Stats() (models.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := models.QueueStats{}
	for _, task := range q.tasks {
		switch task.State {
		case models.TaskStatePending:
			stats.Pending++
		case models.TaskStateInFlight:
			stats.InFlight++
		case models.TaskStateDone:
			stats.Done++
		case models.TaskStateDead:
			stats.Dead++
		}
	}
	return stats, nil
}

// DeadTasks 死信任务列表
func (q *MemoryQueue) DeadTasks() ([]*models.TaskRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dead := make([]*models.TaskRecord, 0)
	for _, task := range q.tasks {
		if task.State == models.TaskStateDead {
			copied := *task
			dead = append(dead, &copied)
		}
	}
	return dead, nil
}

// Close 关闭队列
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// signal 唤醒一个阻塞中的Claim(非阻塞)
func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
