package queue

import (
	"context"
	"errors"
	"time"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
)

// ErrQueueClosed 队列已关闭
var ErrQueueClosed = errors.New("队列已关闭")

// Queue 可靠任务队列
// 向一个或多个竞争消费者分发爬取目标URL:
//   - 发布侧恰好一次: 同一规范化URL只会入队一次(唯一去重点)
//   - 投递侧至少一次: 任务可能被重复投递,但绝不静默丢失
//
// 任务状态机: pending → in_flight (Claim) → done (Ack)
//                              ↘ pending (Fail, 次数未耗尽)
//                              ↘ dead    (Fail, 次数耗尽)
//
// 发布顺序构成全局FIFO主干,但多消费者竞争领取时不保证
// 单消费者视角的顺序; RecoverStale可能使投递顺序偏离发布顺序。
//
// 所有操作对预期情况不返回错误(重复发布返回false、无任务返回空列表、
// 重复Ack为no-op); 错误仅代表底层存储不可达等传输层故障,
// 由调用方自行决定重试策略
type Queue interface {
	// Publish 发布单个URL
	// 返回true表示新任务入队; false表示该URL已存在(任意状态),本次为no-op
	Publish(url string, metadata map[string]string) (bool, error)

	// PublishBatch 批量发布
	// 逐项原子,跨项不原子; 返回实际新入队的数量
	PublishBatch(urls []string, metadatas []map[string]string) (int, error)

	// Claim 领取最多maxItems个任务
	// 无任务时最多阻塞blockTimeout等待新任务,超时返回空列表(不是错误)
	Claim(ctx context.Context, consumerID string, maxItems int, blockTimeout time.Duration) ([]models.Delivery, error)

	// Ack 确认投递完成,任务转为done
	// 对未知或已确认的deliveryID为no-op,不影响其他任务
	Ack(deliveryID string) error

	// Fail 报告投递失败
	// 次数未耗尽则任务重新入队(新的日志条目),否则转为dead并记录错误;
	// 两种情况都会移除投递租约。租约不存在或已被RecoverStale转移时
	// 与Ack一样是no-op,僵尸消费者的上报不影响当前持有者
	Fail(deliveryID, taskID string, taskErr error) error

	// RecoverStale 回收空闲超过maxIdle的投递租约,转交给consumerID
	// 只触碰超时租约,较新的租约(任何消费者的)一律不动
	RecoverStale(consumerID string, maxIdle time.Duration) ([]models.Delivery, error)

	// Stats 队列统计
	Stats() (models.QueueStats, error)

	// DeadTasks 死信任务列表(仅供观测,永不自动重试)
	DeadTasks() ([]*models.TaskRecord, error)

	// Close 释放资源
	Close() error
}
