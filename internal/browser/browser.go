package browser

import (
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// Session 浏览器会话
// 持有浏览器实例和采集用的单个标签页
type Session struct {
	browser *rod.Browser
	page    *rod.Page
}

// NewSession 启动浏览器并打开一个空白标签页
func NewSession(headless bool) (*Session, error) {
	// 配置launcher
	l := launcher.New()

	if headless {
		l = l.Headless(true)
	} else {
		l = l.Headless(false)
	}

	// 允许访问自签名、过期或主机名不匹配的HTTPS站点
	l = l.Set("ignore-certificate-errors")

	// 启动浏览器
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	// 连接到浏览器
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.MustClose()
		return nil, fmt.Errorf("创建标签页失败: %w", err)
	}

	utils.Debugf("浏览器已启动: %s", controlURL)
	return &Session{browser: browser, page: page}, nil
}

// Page 采集标签页
func (s *Session) Page() *rod.Page {
	return s.page
}

// Browser 底层浏览器实例(供worker按需开新标签页)
func (s *Session) Browser() *rod.Browser {
	return s.browser
}

// Close 关闭浏览器
func (s *Session) Close() {
	if s.browser != nil {
		s.browser.MustClose()
		utils.Debugf("浏览器已关闭")
	}
}
