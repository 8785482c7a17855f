package ratelimit

import (
	"math"
	"time"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// Config 速率控制配置
type Config struct {
	BaseDelay         float64 // 基础延迟(秒),必须>0
	BackoffFactor     float64 // 退避倍率,必须>1
	MaxLevel          int     // 最大退避等级
	RecoveryThreshold int     // 降级所需连续成功次数
}

// Controller 自适应速率控制器
// 请求间延迟的唯一决策来源: delay = base_delay * backoff_factor^level
//
// 乘性退避在收到敌对信号后能快速到达安全频率;
// 加性、阈值门控的恢复避免单次偶然成功立即抵消惩罚(防振荡)。
//
// 控制器只给出建议,不执行等待,不做I/O,永不失败。
// 每个爬取任务一个实例,内部无并发保护,调用方自行串行化
type Controller struct {
	baseDelay         float64
	backoffFactor     float64
	maxLevel          int
	recoveryThreshold int

	level                int
	consecutiveSuccesses int
}

// NewController 创建速率控制器
func NewController(cfg Config) *Controller {
	return &Controller{
		baseDelay:         cfg.BaseDelay,
		backoffFactor:     cfg.BackoffFactor,
		maxLevel:          cfg.MaxLevel,
		recoveryThreshold: cfg.RecoveryThreshold,
	}
}

// GetDelay 返回当前建议延迟
// 纯函数,幂等,任何时刻可调用
func (c *Controller) GetDelay() time.Duration {
	seconds := c.baseDelay * math.Pow(c.backoffFactor, float64(c.level))
	return time.Duration(seconds * float64(time.Second))
}

// ApplyPenalty 记录一次惩罚信号
// 仅在协作方将响应判定为限流/反爬时调用,本控制器不做任何自动推断。
// 效果: level升一级(封顶maxLevel),连续成功计数清零
func (c *Controller) ApplyPenalty() {
	if c.level < c.maxLevel {
		c.level++
	}
	c.consecutiveSuccesses = 0

	utils.Warnf("收到限流惩罚信号, 退避等级升至 %d, 当前延迟 %.2f秒",
		c.level, c.GetDelay().Seconds())
}

// RecordSuccess 记录一次完整成功的页面抓取
// 连续成功达到阈值后level降一级并清零计数
func (c *Controller) RecordSuccess() {
	c.consecutiveSuccesses++
	if c.consecutiveSuccesses >= c.recoveryThreshold {
		if c.level > 0 {
			c.level--
			utils.Infof("连续成功 %d 次, 退避等级降至 %d, 当前延迟 %.2f秒",
				c.recoveryThreshold, c.level, c.GetDelay().Seconds())
		}
		c.consecutiveSuccesses = 0
	}
}

// SetLevel 管理性覆盖,仅用于从检查点恢复状态
// 钳制到[0, maxLevel],绕过正常状态转移逻辑
func (c *Controller) SetLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > c.maxLevel {
		level = c.maxLevel
	}
	c.level = level
}

// Level 返回当前退避等级
func (c *Controller) Level() int {
	return c.level
}

// Snapshot 导出可持久化状态(写入检查点)
func (c *Controller) Snapshot() models.RateState {
	return models.RateState{
		Level:                c.level,
		ConsecutiveSuccesses: c.consecutiveSuccesses,
	}
}

// Restore 从检查点恢复状态
func (c *Controller) Restore(state models.RateState) {
	c.SetLevel(state.Level)
	c.consecutiveSuccesses = state.ConsecutiveSuccesses
	if c.consecutiveSuccesses < 0 {
		c.consecutiveSuccesses = 0
	}
}
