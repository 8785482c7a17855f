package resume

import (
	"net/url"
	"strconv"

	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// pageParamNames 常见页码query参数名固定白名单,按优先级排列
var pageParamNames = []string{
	"page", "p", "pn", "pageNum", "page_num", "pageNo", "page_no", "pg",
}

// URLPatternStrategy URL模式直达策略
// 列表URL带有可识别的页码参数时,直接改写参数并导航,
// 无论跳过多少页都是O(1)。
// 以下情况报告不适用: URL没有白名单内的参数、构造的URL加载失败、
// 或加载后读到的页码与目标不符
type URLPatternStrategy struct {
	driver  PageDriver
	listURL string
}

// NewURLPatternStrategy 创建URL模式策略
func NewURLPatternStrategy(driver PageDriver, listURL string) *URLPatternStrategy {
	return &URLPatternStrategy{driver: driver, listURL: listURL}
}

// Name 策略名称
func (s *URLPatternStrategy) Name() string {
	return "url_pattern"
}

// Resume 尝试URL直达
func (s *URLPatternStrategy) Resume(targetPage int) (bool, int, error) {
	target, ok := s.buildTargetURL(targetPage)
	if !ok {
		utils.Debugf("URL中未识别到页码参数, URL模式策略不适用: %s", s.listURL)
		return false, 0, nil
	}

	utils.Infof("URL模式策略: 直接导航到第 %d 页: %s", targetPage, target)

	if err := s.driver.NavigateToURL(target); err != nil {
		// 构造的URL加载失败 → 不适用,交给下一个策略
		utils.Warnf("构造的页码URL加载失败: %v", err)
		return false, 0, nil
	}

	page, err := s.driver.CurrentPageNumber()
	if err != nil {
		return false, 0, err
	}
	if page != targetPage {
		utils.Warnf("URL直达后页码不符: 期望 %d, 实际 %d", targetPage, page)
		return false, 0, nil
	}

	return true, page, nil
}

// buildTargetURL 改写白名单页码参数,返回(目标URL, 是否识别到参数)
func (s *URLPatternStrategy) buildTargetURL(targetPage int) (string, bool) {
	parsed, err := url.Parse(s.listURL)
	if err != nil {
		return "", false
	}

	query := parsed.Query()
	for _, name := range pageParamNames {
		if !query.Has(name) {
			continue
		}
		// 参数值必须本来就是数字,避免误改同名的非页码参数
		if _, err := strconv.Atoi(query.Get(name)); err != nil {
			continue
		}
		query.Set(name, strconv.Itoa(targetPage))
		parsed.RawQuery = query.Encode()
		return parsed.String(), true
	}
	return "", false
}
