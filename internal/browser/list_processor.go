package browser

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-rod/rod"

	"github.com/RecoveryAshes/CrawlGuard/internal/core"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// ListPageProcessor 列表页处理器
// 实现core.PageProcessor: 从当前列表页提取全部条目链接,
// 并根据页面上的限流特征元素判定是否触发了反爬
type ListPageProcessor struct {
	page      *rod.Page
	selectors Selectors
}

// NewListPageProcessor 创建列表页处理器
func NewListPageProcessor(page *rod.Page, selectors Selectors) *ListPageProcessor {
	return &ListPageProcessor{page: page, selectors: selectors}
}

// ProcessPage 处理当前列表页
// 调用前提: 浏览器已停在第pageNumber页(由采集器负责导航)
func (p *ListPageProcessor) ProcessPage(ctx context.Context, pageNumber int) (*core.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 限流特征元素出现即判定为惩罚信号
	if p.selectors.RateLimitMarker != "" {
		has, _, err := p.page.Has(p.selectors.RateLimitMarker)
		if err == nil && has {
			return nil, fmt.Errorf("%w: 第 %d 页出现验证码/限流提示", core.ErrRateLimited, pageNumber)
		}
	}

	elements, err := p.page.Elements(p.selectors.ItemLinks)
	if err != nil {
		return nil, fmt.Errorf("查找条目链接失败: %w", err)
	}

	info, err := p.page.Info()
	if err != nil {
		return nil, fmt.Errorf("读取页面信息失败: %w", err)
	}

	itemURLs := make([]string, 0, len(elements))
	for _, element := range elements {
		href, err := element.Attribute("href")
		if err != nil || href == nil || *href == "" {
			continue
		}
		itemURLs = append(itemURLs, resolveURL(info.URL, *href))
	}

	if len(itemURLs) == 0 {
		utils.Warnf("第 %d 页未提取到任何条目链接", pageNumber)
	}

	// 有"下一页"按钮即认为还有下一页
	hasNext, _, err := p.page.Has(p.selectors.NextPageButton)
	if err != nil {
		hasNext = false
	}

	return &core.PageResult{
		ItemURLs:    itemURLs,
		Metadata:    map[string]string{"list_page": strconv.Itoa(pageNumber)},
		HasNextPage: hasNext,
	}, nil
}
