package resume

import (
	"errors"
	"fmt"

	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// ErrResumeExhausted 全部恢复策略失败
// 只有页面能力本身损坏才会走到这一步,是本组件唯一的致命错误
var ErrResumeExhausted = errors.New("全部恢复策略失败")

// Coordinator 恢复协调器
// 按固定优先级依次尝试策略: URL模式直达 → 跳页控件 → 智能跳过。
// 策略集合小、封闭、顺序敏感,因此用固定列表而不是动态注册。
//
// 返回实际到达的页码 —— 受智能跳过的回退规则影响,可能比目标页
// 小一页,调用方必须以返回值与检查点对账,而不是假定精确相等
type Coordinator struct {
	strategies []Strategy

	// 最近一次成功恢复所用的策略名,供报告层读取
	lastStrategy string
}

// NewCoordinator 创建恢复协调器
// strategies必须按优先级排列; 一般通过NewDefaultCoordinator构造
func NewCoordinator(strategies ...Strategy) *Coordinator {
	return &Coordinator{strategies: strategies}
}

// NewDefaultCoordinator 按规范顺序组装三个策略
func NewDefaultCoordinator(driver PageDriver, listURL string, collected map[string]bool, maxSkipPages int) *Coordinator {
	return NewCoordinator(
		NewURLPatternStrategy(driver, listURL),
		NewWidgetJumpStrategy(driver),
		NewSmartSkipStrategy(driver, collected, maxSkipPages),
	)
}

// ResumeToPage 将爬取前沿移动到目标页
// 前两个策略的能力层错误按"不适用"处理继续下探,兜底策略的
// 错误才致命; 返回(实际到达页码, 错误)
func (c *Coordinator) ResumeToPage(targetPage int) (int, error) {
	if targetPage <= 1 {
		// 第一页无需恢复
		return 1, nil
	}

	utils.Infof("开始恢复爬取位置: 目标第 %d 页", targetPage)

	var lastErr error
	for i, strategy := range c.strategies {
		ok, page, err := strategy.Resume(targetPage)
		if err != nil {
			lastErr = err
			if i == len(c.strategies)-1 {
				// 兜底策略也报能力层错误: 页面能力已损坏,致命
				break
			}
			utils.Warnf("恢复策略 %s 出错, 继续尝试下一策略: %v", strategy.Name(), err)
			continue
		}
		if ok {
			c.lastStrategy = strategy.Name()
			utils.Infof("恢复成功: 策略 %s, 到达第 %d 页", strategy.Name(), page)
			return page, nil
		}
		utils.Debugf("恢复策略 %s 不适用", strategy.Name())
	}

	if lastErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrResumeExhausted, lastErr)
	}
	return 0, ErrResumeExhausted
}

// LastStrategy 最近一次成功恢复所用的策略名
// 尚未成功恢复过时返回空字符串
func (c *Coordinator) LastStrategy() string {
	return c.lastStrategy
}
