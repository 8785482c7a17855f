package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// Badger键空间布局:
//   task:<task_id>                任务记录(JSON)
//   log:<seq, 20位零填充>          追加有序日志主干,值为task_id
//   pel:<delivery_id>             投递租约(JSON),全消费者统一前缀便于超时扫描
//   meta:seq                      日志序号计数器
//   meta:cursor                   下一个未领取的日志序号
const (
	taskKeyPrefix = "task:"
	logKeyPrefix  = "log:"
	pelKeyPrefix  = "pel:"
	seqKey        = "meta:seq"
	cursorKey     = "meta:cursor"
)

// claimPollInterval Claim阻塞等待时的轮询间隔
// Badger没有跨进程唤醒原语,阻塞语义通过轮询实现
const claimPollInterval = 100 * time.Millisecond

// BadgerQueue Badger持久化队列实现
// 任务记录、日志主干、投递租约存放在同一数据库,每个操作
// 在单个事务内完成,依赖Badger的SSI冲突检测保证操作间原子性;
// 冲突事务自动重试
type BadgerQueue struct {
	db         *badger.DB
	maxRetries int
}

// NewBadgerQueue 打开(或创建)Badger队列
func NewBadgerQueue(dir string, maxRetries int) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("打开队列存储失败 [%s]: %w", dir, err)
	}

	utils.Infof("队列存储已打开: %s", dir)
	return &BadgerQueue{db: db, maxRetries: maxRetries}, nil
}

// update 带冲突重试的事务执行
func (q *BadgerQueue) update(fn func(txn *badger.Txn) error) error {
	for {
		err := q.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
		// 竞争消费者触发写冲突,重试
	}
}

// Publish 发布单个URL
func (q *BadgerQueue) Publish(url string, metadata map[string]string) (bool, error) {
	taskID := models.TaskIDForURL(url)
	published := false

	err := q.update(func(txn *badger.Txn) error {
		// 去重点: 任意状态下已存在即no-op
		_, err := txn.Get([]byte(taskKeyPrefix + taskID))
		if err == nil {
			published = false
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		now := time.Now()
		record := &models.TaskRecord{
			TaskID:    taskID,
			URL:       url,
			Metadata:  metadata,
			State:     models.TaskStatePending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := q.setTask(txn, record); err != nil {
			return err
		}
		if err := q.appendLog(txn, taskID); err != nil {
			return err
		}
		published = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("发布任务失败: %w", err)
	}
	return published, nil
}

// PublishBatch 批量发布,逐项原子
func (q *BadgerQueue) PublishBatch(urls []string, metadatas []map[string]string) (int, error) {
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
// Badger无通知机制,无任务时按固定间隔轮询直到超时
func (q *BadgerQueue) Claim(ctx context.Context, consumerID string, maxItems int, blockTimeout time.Duration) ([]models.Delivery, error) {
	if maxItems <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(blockTimeout)
	for {
		deliveries, err := q.tryClaim(consumerID, maxItems)
		if err != nil {
			return nil, fmt.Errorf("领取任务失败: %w", err)
		}
		if len(deliveries) > 0 {
			return deliveries, nil
		}

		if time.Now().After(deadline) {
			return []models.Delivery{}, nil
		}

		timer := time.NewTimer(claimPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return []models.Delivery{}, nil
		case <-timer.C:
		}
	}
}

// tryClaim 单次领取尝试
func (q *BadgerQueue) tryClaim(consumerID string, maxItems int) ([]models.Delivery, error) {
	deliveries := make([]models.Delivery, 0, maxItems)

	err := q.update(func(txn *badger.Txn) error {
		deliveries = deliveries[:0]

		cursor, err := q.getCounter(txn, cursorKey)
		if err != nil {
			return err
		}

		now := time.Now()
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(logKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		startKey := logKey(cursor)
		next := cursor

		for it.Seek(startKey); it.Valid() && len(deliveries) < maxItems; it.Next() {
			item := it.Item()
			seq, ok := parseLogKey(item.Key())
			if !ok {
				continue
			}
			next = seq + 1

			var taskID string
			if err := item.Value(func(val []byte) error {
				taskID = string(val)
				return nil
			}); err != nil {
				return err
			}

			task, err := q.getTask(txn, taskID)
			if err != nil {
				return err
			}
			if task == nil || task.State != models.TaskStatePending {
				// 过期日志条目,跳过并推进游标
				continue
			}

			task.State = models.TaskStateInFlight
			task.UpdatedAt = now
			if err := q.setTask(txn, task); err != nil {
				return err
			}

			entry := &models.DeliveryEntry{
				DeliveryID: models.GenerateDeliveryID(),
				ConsumerID: consumerID,
				TaskID:     taskID,
				ClaimedAt:  now,
			}
			data, err := entry.ToJSON()
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(pelKeyPrefix+entry.DeliveryID), data); err != nil {
				return err
			}

			deliveries = append(deliveries, models.Delivery{
				DeliveryID: entry.DeliveryID,
				TaskID:     taskID,
				URL:        task.URL,
				Metadata:   task.Metadata,
			})
		}

		if next > cursor {
			if err := q.setCounter(txn, cursorKey, next); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

// Ack 确认投递完成
func (q *BadgerQueue) Ack(deliveryID string) error {
	err := q.update(func(txn *badger.Txn) error {
		entry, err := q.getDelivery(txn, deliveryID)
		if err != nil {
			return err
		}
		if entry == nil {
			// 未知或已确认的投递,no-op
			return nil
		}

		if err := txn.Delete([]byte(pelKeyPrefix + deliveryID)); err != nil {
			return err
		}

		task, err := q.getTask(txn, entry.TaskID)
		if err != nil {
			return err
		}
		if task != nil {
			task.State = models.TaskStateDone
			task.UpdatedAt = time.Now()
			return q.setTask(txn, task)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("确认投递失败: %w", err)
	}
	return nil
}

// Fail 报告投递失败
func (q *BadgerQueue) Fail(deliveryID, taskID string, taskErr error) error {
	err := q.update(func(txn *badger.Txn) error {
		entry, err := q.getDelivery(txn, deliveryID)
		if err != nil {
			return err
		}
		// 与Ack对称: 租约不存在或已被RecoverStale转移时,
		// 僵尸消费者的失败上报不得触碰任务
		if entry == nil || entry.TaskID != taskID {
			return nil
		}
		if err := txn.Delete([]byte(pelKeyPrefix + deliveryID)); err != nil {
			return err
		}

		task, err := q.getTask(txn, taskID)
		if err != nil {
			return err
		}
		if task == nil || task.State != models.TaskStateInFlight {
			return nil
		}

		task.AttemptCount++
		task.UpdatedAt = time.Now()
		if taskErr != nil {
			task.LastError = taskErr.Error()
		}

		if task.AttemptCount < q.maxRetries {
			task.State = models.TaskStatePending
			if err := q.setTask(txn, task); err != nil {
				return err
			}
			return q.appendLog(txn, taskID)
		}

		task.State = models.TaskStateDead
		utils.Warnf("任务进入死信: %s (尝试%d次, 最后错误: %s)", taskID, task.AttemptCount, task.LastError)
		return q.setTask(txn, task)
	})
	if err != nil {
		return fmt.Errorf("报告失败状态失败: %w", err)
	}
	return nil
}

// RecoverStale 回收超时租约
func (q *BadgerQueue) RecoverStale(consumerID string, maxIdle time.Duration) ([]models.Delivery, error) {
	recovered := make([]models.Delivery, 0)

	err := q.update(func(txn *badger.Txn) error {
		recovered = recovered[:0]
		now := time.Now()

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pelKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		type stale struct {
			key   []byte
			entry *models.DeliveryEntry
		}
		stales := make([]stale, 0)

		for it.Seek([]byte(pelKeyPrefix)); it.Valid(); it.Next() {
			item := it.Item()
			var entry models.DeliveryEntry
			if err := item.Value(func(val []byte) error {
				return entry.FromJSON(val)
			}); err != nil {
				return err
			}
			if now.Sub(entry.ClaimedAt) > maxIdle {
				stales = append(stales, stale{key: item.KeyCopy(nil), entry: &entry})
			}
		}

		for _, s := range stales {
			task, err := q.getTask(txn, s.entry.TaskID)
			if err != nil {
				return err
			}
			if err := txn.Delete(s.key); err != nil {
				return err
			}
			if task == nil || task.State != models.TaskStateInFlight {
				// 孤儿租约(任务已不在in_flight),清除但不转移
				continue
			}

			fresh := &models.DeliveryEntry{
				DeliveryID: models.GenerateDeliveryID(),
				ConsumerID: consumerID,
				TaskID:     s.entry.TaskID,
				ClaimedAt:  now,
			}
			data, err := fresh.ToJSON()
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(pelKeyPrefix+fresh.DeliveryID), data); err != nil {
				return err
			}

			recovered = append(recovered, models.Delivery{
				DeliveryID: fresh.DeliveryID,
				TaskID:     s.entry.TaskID,
				URL:        task.URL,
				Metadata:   task.Metadata,
			})

			utils.Warnf("回收超时投递: 任务 %s 从 %s 转移至 %s",
				s.entry.TaskID, s.entry.ConsumerID, consumerID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("回收超时租约失败: %w", err)
	}
	return recovered, nil
}

// Stats 队列统计
func (q *BadgerQueue) Stats() (models.QueueStats, error) {
	stats := models.QueueStats{}

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(taskKeyPrefix)); it.Valid(); it.Next() {
			var task models.TaskRecord
			if err := it.Item().Value(func(val []byte) error {
				return task.FromJSON(val)
			}); err != nil {
				return err
			}
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
		return nil
	})
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("读取队列统计失败: %w", err)
	}
	return stats, nil
}

// DeadTasks 死信任务列表
func (q *BadgerQueue) DeadTasks() ([]*models.TaskRecord, error) {
	dead := make([]*models.TaskRecord, 0)

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(taskKeyPrefix)); it.Valid(); it.Next() {
			var task models.TaskRecord
			if err := it.Item().Value(func(val []byte) error {
				return task.FromJSON(val)
			}); err != nil {
				return err
			}
			if task.State == models.TaskStateDead {
				copied := task
				dead = append(dead, &copied)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取死信列表失败: %w", err)
	}
	return dead, nil
}

// Close 关闭数据库
func (q *BadgerQueue) Close() error {
	return q.db.Close()
}

// ---- 存储辅助 ----

func (q *BadgerQueue) getTask(txn *badger.Txn, taskID string) (*models.TaskRecord, error) {
	item, err := txn.Get([]byte(taskKeyPrefix + taskID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task models.TaskRecord
	if err := item.Value(func(val []byte) error {
		return task.FromJSON(val)
	}); err != nil {
		return nil, err
	}
	return &task, nil
}

func (q *BadgerQueue) setTask(txn *badger.Txn, task *models.TaskRecord) error {
	data, err := task.ToJSON()
	if err != nil {
		return err
	}
	return txn.Set([]byte(taskKeyPrefix+task.TaskID), data)
}

func (q *BadgerQueue) getDelivery(txn *badger.Txn, deliveryID string) (*models.DeliveryEntry, error) {
	item, err := txn.Get([]byte(pelKeyPrefix + deliveryID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry models.DeliveryEntry
	if err := item.Value(func(val []byte) error {
		return entry.FromJSON(val)
	}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// appendLog 追加日志条目并递增序号
func (q *BadgerQueue) appendLog(txn *badger.Txn, taskID string) error {
	seq, err := q.getCounter(txn, seqKey)
	if err != nil {
		return err
	}
	if err := txn.Set(logKey(seq), []byte(taskID)); err != nil {
		return err
	}
	return q.setCounter(txn, seqKey, seq+1)
}

func (q *BadgerQueue) getCounter(txn *badger.Txn, key string) (uint64, error) {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var value uint64
	if err := item.Value(func(val []byte) error {
		if len(val) == 8 {
			value = binary.BigEndian.Uint64(val)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	return value, nil
}

func (q *BadgerQueue) setCounter(txn *badger.Txn, key string, value uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)
	return txn.Set([]byte(key), buf)
}

// logKey 生成零填充日志键,保证字节序即序号序
func logKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", logKeyPrefix, seq))
}

// parseLogKey 从日志键解析序号
func parseLogKey(key []byte) (uint64, bool) {
	s := string(key)
	if len(s) <= len(logKeyPrefix) {
		return 0, false
	}
	var seq uint64
	if _, err := fmt.Sscanf(s[len(logKeyPrefix):], "%d", &seq); err != nil {
		return 0, false
	}
	return seq, true
}
