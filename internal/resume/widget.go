package resume

import (
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// WidgetJumpStrategy 跳页控件策略
// 页面带有"跳转到第N页"输入框+按钮时,填写目标页码并提交,O(1)。
// 控件不存在、不可交互、或提交后读回的页码与目标不符时报告失败
type WidgetJumpStrategy struct {
	driver PageDriver
}

// NewWidgetJumpStrategy 创建跳页控件策略
func NewWidgetJumpStrategy(driver PageDriver) *WidgetJumpStrategy {
	return &WidgetJumpStrategy{driver: driver}
}

// Name 策略名称
func (s *WidgetJumpStrategy) Name() string {
	return "widget_jump"
}

// Resume 尝试控件跳页
func (s *WidgetJumpStrategy) Resume(targetPage int) (bool, int, error) {
	utils.Infof("跳页控件策略: 尝试跳转到第 %d 页", targetPage)

	if err := s.driver.FillAndSubmitJumpWidget(targetPage); err != nil {
		// 控件缺失或不可交互 → 失败,交给下一个策略
		utils.Debugf("跳页控件不可用: %v", err)
		return false, 0, nil
	}

	// 提交后验证实际到达的页码
	page, err := s.driver.CurrentPageNumber()
	if err != nil {
		return false, 0, err
	}
	if page != targetPage {
		utils.Warnf("跳页控件提交后页码不符: 期望 %d, 实际 %d", targetPage, page)
		return false, 0, nil
	}

	return true, page, nil
}
