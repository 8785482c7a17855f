package resume

import (
	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// SmartSkipStrategy 智能跳过策略(兜底,永远适用,保证终止)
// 逐页只读取第一个条目的URL: 若其ID已在已采集集合中,说明该页
// 至少开始采集过,点击"下一页"继续; 遇到第一个条目未见过的页面时,
// 回退恰好一页再返回 —— "第一项已见过"不能证明整页都采集完了
// (按滚动采集可能中途停止),宁可重扫一页也不跳过半页。
//
// 代价O(跳过页数),由maxPages上限兜底,防止损坏状态导致的死循环;
// 前沿永远不会越过目标页(actual <= target)
type SmartSkipStrategy struct {
	driver    PageDriver
	collected map[string]bool // 已采集条目ID集合(规范化URL哈希)
	maxPages  int
}

// NewSmartSkipStrategy 创建智能跳过策略
// maxPages非正时使用默认上限50
func NewSmartSkipStrategy(driver PageDriver, collected map[string]bool, maxPages int) *SmartSkipStrategy {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &SmartSkipStrategy{
		driver:    driver,
		collected: collected,
		maxPages:  maxPages,
	}
}

// Name 策略名称
func (s *SmartSkipStrategy) Name() string {
	return "smart_skip"
}

// Resume 逐页探测前进
func (s *SmartSkipStrategy) Resume(targetPage int) (bool, int, error) {
	advanced := 0

	for {
		page, err := s.driver.CurrentPageNumber()
		if err != nil {
			return false, 0, err
		}

		if advanced >= s.maxPages {
			utils.Warnf("智能跳过策略: 达到最大探测页数 %d, 停在第 %d 页", s.maxPages, page)
			return true, page, nil
		}

		firstItem, err := s.driver.FirstItemURL()
		if err != nil {
			return false, 0, err
		}

		// 第一个条目未见过(或页面为空): 该页不能确认已采集完,
		// 回退一页后返回,让调用方从上一页重新采集
		if firstItem == "" || !s.collected[models.TaskIDForURL(firstItem)] {
			if advanced > 0 {
				if err := s.driver.NavigateBack(); err != nil {
					return false, 0, err
				}
				page, err = s.driver.CurrentPageNumber()
				if err != nil {
					return false, 0, err
				}
			}
			utils.Infof("智能跳过策略: 发现未采集页, 停在第 %d 页 (目标 %d)", page, targetPage)
			return true, page, nil
		}

		// 第一个条目已采集但已到目标页: 就地返回,绝不越过目标
		if page >= targetPage {
			utils.Infof("智能跳过策略: 已到达第 %d 页 (目标 %d), 前进 %d 页", page, targetPage, advanced)
			return true, page, nil
		}

		if err := s.driver.ClickNextPage(); err != nil {
			return false, 0, err
		}
		advanced++
	}
}
