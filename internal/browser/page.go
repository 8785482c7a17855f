package browser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// Selectors 列表页元素选择器配置
// 不同站点的列表页结构不同,选择器由配置层提供
type Selectors struct {
	ItemLinks       string // 全部条目链接,例: ".list-item a"
	FirstItemLink   string // 第一个条目链接,例: ".list-item a"
	NextPageButton  string // "下一页"按钮,例: ".pagination .next"
	JumpInput       string // 跳页输入框,例: ".pagination input.jump"
	JumpSubmit      string // 跳页提交按钮,例: ".pagination button.jump-go"
	ActivePage      string // 当前页码元素,例: ".pagination .active"
	RateLimitMarker string // 限流/验证码特征元素,例: ".captcha, .rate-limit"
}

// DefaultSelectors 常见分页组件的默认选择器
func DefaultSelectors() Selectors {
	return Selectors{
		ItemLinks:       ".list-item a, .item a, li.result a",
		FirstItemLink:   ".list-item a, .item a, li.result a",
		NextPageButton:  ".pagination .next, a.next-page, a[rel=next]",
		JumpInput:       ".pagination input[type=number], .pagination input.jump",
		JumpSubmit:      ".pagination button.jump, .pagination .jump-go",
		ActivePage:      ".pagination .active, .pagination .current",
		RateLimitMarker: ".captcha, #captcha, .rate-limit-notice",
	}
}

// elementTimeout 元素查找超时
// 分页元素要么立即存在要么不存在,不需要长等待
const elementTimeout = 3 * time.Second

// pageNumberPattern 从元素文本提取页码
var pageNumberPattern = regexp.MustCompile(`\d+`)

// RodPageDriver 基于rod的页面能力实现
// 实现resume.PageDriver接口,持有单个标签页; 本层只做元素定位和
// 读写,不包含任何爬取决策
type RodPageDriver struct {
	page      *rod.Page
	selectors Selectors
}

// NewRodPageDriver 创建rod页面驱动
func NewRodPageDriver(page *rod.Page, selectors Selectors) *RodPageDriver {
	return &RodPageDriver{page: page, selectors: selectors}
}

// CurrentPageNumber 读取当前页码
// 优先从分页组件的当前页元素读取,失败时回落到URL页码参数
func (d *RodPageDriver) CurrentPageNumber() (int, error) {
	element, err := d.page.Timeout(elementTimeout).Element(d.selectors.ActivePage)
	if err == nil {
		text, textErr := element.Text()
		if textErr == nil {
			if match := pageNumberPattern.FindString(text); match != "" {
				if page, convErr := strconv.Atoi(match); convErr == nil {
					return page, nil
				}
			}
		}
	}

	// 回落: 从URL的页码参数解析
	info, err := d.page.Info()
	if err != nil {
		return 0, fmt.Errorf("读取页面信息失败: %w", err)
	}
	if page, ok := pageNumberFromURL(info.URL); ok {
		return page, nil
	}

	// 两种途径都读不到页码时,认为处于第一页
	return 1, nil
}

// NavigateToURL 导航到URL并等待加载完成
func (d *RodPageDriver) NavigateToURL(targetURL string) error {
	if err := d.page.Navigate(targetURL); err != nil {
		return fmt.Errorf("导航失败 [%s]: %w", targetURL, err)
	}
	if err := d.page.WaitLoad(); err != nil {
		return fmt.Errorf("等待页面加载失败 [%s]: %w", targetURL, err)
	}
	return nil
}

// NavigateBack 回退一页
func (d *RodPageDriver) NavigateBack() error {
	if err := d.page.NavigateBack(); err != nil {
		return fmt.Errorf("回退页面失败: %w", err)
	}
	if err := d.page.WaitLoad(); err != nil {
		return fmt.Errorf("等待页面加载失败: %w", err)
	}
	return nil
}

// FirstItemURL 读取第一个条目的URL
func (d *RodPageDriver) FirstItemURL() (string, error) {
	element, err := d.page.Timeout(elementTimeout).Element(d.selectors.FirstItemLink)
	if err != nil {
		// 页面没有条目不是错误
		utils.Debugf("未找到条目链接元素: %v", err)
		return "", nil
	}

	href, err := element.Attribute("href")
	if err != nil {
		return "", fmt.Errorf("读取条目链接失败: %w", err)
	}
	if href == nil || *href == "" {
		return "", nil
	}

	// 相对链接按当前页面URL补全
	info, err := d.page.Info()
	if err != nil {
		return "", fmt.Errorf("读取页面信息失败: %w", err)
	}
	return resolveURL(info.URL, *href), nil
}

// ClickNextPage 点击"下一页"
func (d *RodPageDriver) ClickNextPage() error {
	element, err := d.page.Timeout(elementTimeout).Element(d.selectors.NextPageButton)
	if err != nil {
		return fmt.Errorf("未找到下一页按钮: %w", err)
	}
	if err := element.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("点击下一页失败: %w", err)
	}
	if err := d.page.WaitLoad(); err != nil {
		return fmt.Errorf("等待页面加载失败: %w", err)
	}
	return nil
}

// FillAndSubmitJumpWidget 填写跳页控件并提交
func (d *RodPageDriver) FillAndSubmitJumpWidget(pageNumber int) error {
	input, err := d.page.Timeout(elementTimeout).Element(d.selectors.JumpInput)
	if err != nil {
		return fmt.Errorf("未找到跳页输入框: %w", err)
	}
	submit, err := d.page.Timeout(elementTimeout).Element(d.selectors.JumpSubmit)
	if err != nil {
		return fmt.Errorf("未找到跳页提交按钮: %w", err)
	}

	if err := input.SelectAllText(); err != nil {
		return fmt.Errorf("选中跳页输入框失败: %w", err)
	}
	if err := input.Input(strconv.Itoa(pageNumber)); err != nil {
		return fmt.Errorf("填写页码失败: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("提交跳页失败: %w", err)
	}
	if err := d.page.WaitLoad(); err != nil {
		return fmt.Errorf("等待页面加载失败: %w", err)
	}
	return nil
}

// pageNumberFromURL 从URL的常见页码参数解析页码
func pageNumberFromURL(rawURL string) (int, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, false
	}
	query := parsed.Query()
	for _, name := range []string{"page", "p", "pn", "pageNum", "page_num", "pageNo", "page_no", "pg"} {
		if value := query.Get(name); value != "" {
			if page, err := strconv.Atoi(value); err == nil {
				return page, true
			}
		}
	}
	return 0, false
}

// resolveURL 将可能的相对链接补全为绝对URL
func resolveURL(baseURL, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
