package resume

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"testing"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
)

// fakeDriver 可编排的页面能力假实现
type fakeDriver struct {
	currentPage int

	// 每页第一个条目的URL,缺省为空页
	firstItems map[int]string

	// 导航到带页码参数的URL时是否真的跳页(模拟站点是否支持)
	honorPageParam bool

	// 跳页控件是否可用
	widgetWorks bool

	// 页码读取故障(模拟页面能力损坏)
	pageNumberErr error

	backCalls int
	nextCalls int
}

func (d *fakeDriver) CurrentPageNumber() (int, error) {
	if d.pageNumberErr != nil {
		return 0, d.pageNumberErr
	}
	return d.currentPage, nil
}

func (d *fakeDriver) NavigateToURL(targetURL string) error {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return err
	}
	if d.honorPageParam {
		if value := parsed.Query().Get("page"); value != "" {
			if page, err := strconv.Atoi(value); err == nil {
				d.currentPage = page
				return nil
			}
		}
	}
	// 站点忽略页码参数,停在第一页
	d.currentPage = 1
	return nil
}

func (d *fakeDriver) NavigateBack() error {
	d.backCalls++
	if d.currentPage > 1 {
		d.currentPage--
	}
	return nil
}

func (d *fakeDriver) FirstItemURL() (string, error) {
	return d.firstItems[d.currentPage], nil
}

func (d *fakeDriver) ClickNextPage() error {
	d.nextCalls++
	d.currentPage++
	return nil
}

func (d *fakeDriver) FillAndSubmitJumpWidget(pageNumber int) error {
	if !d.widgetWorks {
		return errors.New("未找到跳页输入框")
	}
	d.currentPage = pageNumber
	return nil
}

// collectedFirstItems 构造前n页第一个条目已采集的集合
func collectedFirstItems(d *fakeDriver, n int) map[string]bool {
	collected := make(map[string]bool)
	for page := 1; page <= n; page++ {
		itemURL := fmt.Sprintf("https://example.com/item/p%d-1", page)
		d.firstItems[page] = itemURL
		collected[models.TaskIDForURL(itemURL)] = true
	}
	return collected
}

func TestCoordinator_TargetPageOne(t *testing.T) {
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}}
	c := NewDefaultCoordinator(driver, "https://example.com/list", nil, 50)

	page, err := c.ResumeToPage(1)
	if err != nil || page != 1 {
		t.Errorf("第一页无需恢复, 期望(1,nil), 实际(%d,%v)", page, err)
	}
	if driver.nextCalls != 0 || driver.backCalls != 0 {
		t.Error("目标为第一页时不应触碰页面")
	}
}

func TestURLPatternStrategy_DirectNavigation(t *testing.T) {
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}, honorPageParam: true}
	c := NewDefaultCoordinator(driver, "https://example.com/list?page=1", nil, 50)

	page, err := c.ResumeToPage(7)
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if page != 7 {
		t.Errorf("期望到达第7页, 实际=%d", page)
	}
	if c.LastStrategy() != "url_pattern" {
		t.Errorf("期望策略=url_pattern, 实际=%s", c.LastStrategy())
	}
}

func TestURLPatternStrategy_NoPageParam(t *testing.T) {
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}}
	s := NewURLPatternStrategy(driver, "https://example.com/list")

	ok, _, err := s.Resume(5)
	if err != nil {
		t.Fatalf("无页码参数不是错误: %v", err)
	}
	if ok {
		t.Error("无页码参数期望不适用")
	}
}

func TestURLPatternStrategy_NonNumericParamSkipped(t *testing.T) {
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}, honorPageParam: true}
	// page参数值不是数字,不应被改写
	s := NewURLPatternStrategy(driver, "https://example.com/list?page=all")

	ok, _, err := s.Resume(5)
	if err != nil || ok {
		t.Errorf("非数字页码参数期望不适用, 实际ok=%v, err=%v", ok, err)
	}
}

func TestURLPatternStrategy_PageMismatch(t *testing.T) {
	// 站点忽略页码参数,导航后仍在第一页
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}, honorPageParam: false}
	s := NewURLPatternStrategy(driver, "https://example.com/list?page=1")

	ok, _, err := s.Resume(5)
	if err != nil {
		t.Fatalf("页码不符不是错误: %v", err)
	}
	if ok {
		t.Error("页码不符期望不适用")
	}
}

func TestWidgetJumpStrategy(t *testing.T) {
	tests := []struct {
		name        string
		widgetWorks bool
		wantOK      bool
	}{
		{"控件可用", true, true},
		{"控件缺失", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}, widgetWorks: tt.widgetWorks}
			s := NewWidgetJumpStrategy(driver)

			ok, page, err := s.Resume(6)
			if err != nil {
				t.Fatalf("控件策略错误: %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("期望ok=%v, 实际=%v", tt.wantOK, ok)
			}
			if tt.wantOK && page != 6 {
				t.Errorf("期望到达第6页, 实际=%d", page)
			}
		})
	}
}

func TestSmartSkipStrategy_BackStepOnUnseenPage(t *testing.T) {
	// 前4页的第一个条目已采集,目标第5页: 探测到第5页发现未见条目,
	// 回退一页,停在第4页
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}}
	collected := collectedFirstItems(driver, 4)

	s := NewSmartSkipStrategy(driver, collected, 50)
	ok, page, err := s.Resume(5)
	if err != nil {
		t.Fatalf("智能跳过失败: %v", err)
	}
	if !ok {
		t.Fatal("兜底策略必须适用")
	}
	if page != 4 {
		t.Errorf("期望停在第4页, 实际=%d", page)
	}
	if driver.backCalls != 1 {
		t.Errorf("期望恰好回退1次, 实际=%d", driver.backCalls)
	}
}

func TestSmartSkipStrategy_AllPagesSeen(t *testing.T) {
	// 前8页都已见,目标第5页: 到达目标页即停,绝不越过
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}}
	collected := collectedFirstItems(driver, 8)

	s := NewSmartSkipStrategy(driver, collected, 50)
	ok, page, err := s.Resume(5)
	if err != nil || !ok {
		t.Fatalf("智能跳过失败: ok=%v, err=%v", ok, err)
	}
	if page != 5 {
		t.Errorf("期望停在目标第5页, 实际=%d", page)
	}
	if driver.backCalls != 0 {
		t.Errorf("全部已见时不应回退, 实际=%d次", driver.backCalls)
	}
}

func TestSmartSkipStrategy_EmptyFirstPage(t *testing.T) {
	// 第一页即为空页: 不前进也不回退,停在原地
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}}

	s := NewSmartSkipStrategy(driver, map[string]bool{}, 50)
	ok, page, err := s.Resume(5)
	if err != nil || !ok {
		t.Fatalf("智能跳过失败: ok=%v, err=%v", ok, err)
	}
	if page != 1 {
		t.Errorf("期望停在第1页, 实际=%d", page)
	}
	if driver.backCalls != 0 {
		t.Errorf("未前进时不应回退, 实际=%d次", driver.backCalls)
	}
}

func TestSmartSkipStrategy_MaxPagesBound(t *testing.T) {
	// 探测页数达到上限后就地停止,防止损坏状态导致死循环
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}}
	collected := collectedFirstItems(driver, 100)

	s := NewSmartSkipStrategy(driver, collected, 3)
	ok, page, err := s.Resume(50)
	if err != nil || !ok {
		t.Fatalf("智能跳过失败: ok=%v, err=%v", ok, err)
	}
	if page != 4 {
		t.Errorf("前进3页后应停在第4页, 实际=%d", page)
	}
	if driver.nextCalls != 3 {
		t.Errorf("期望翻页3次, 实际=%d", driver.nextCalls)
	}
}

func TestCoordinator_FallsThroughToSmartSkip(t *testing.T) {
	// URL无页码参数、控件缺失 → 落到智能跳过
	driver := &fakeDriver{currentPage: 1, firstItems: map[int]string{}}
	collected := collectedFirstItems(driver, 4)

	c := NewDefaultCoordinator(driver, "https://example.com/list", collected, 50)
	page, err := c.ResumeToPage(5)
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if page != 4 {
		t.Errorf("期望停在第4页, 实际=%d", page)
	}
	if c.LastStrategy() != "smart_skip" {
		t.Errorf("期望策略=smart_skip, 实际=%s", c.LastStrategy())
	}
}

func TestCoordinator_AllStrategiesFail(t *testing.T) {
	// 页码读取损坏: URL直达报错(继续下探)、控件缺失、
	// 兜底策略也报错 → 唯一的致命错误
	driver := &fakeDriver{
		currentPage:    1,
		firstItems:     map[int]string{},
		honorPageParam: true,
		pageNumberErr:  errors.New("分页组件消失"),
	}

	c := NewDefaultCoordinator(driver, "https://example.com/list?page=1", nil, 50)
	_, err := c.ResumeToPage(5)
	if err == nil {
		t.Fatal("全部策略失败期望致命错误")
	}
	if !errors.Is(err, ErrResumeExhausted) {
		t.Errorf("期望ErrResumeExhausted, 实际: %v", err)
	}
}
