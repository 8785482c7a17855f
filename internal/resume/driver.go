package resume

// PageDriver 浏览器层提供的页面能力
// 恢复策略只依赖这组窄接口,不关心背后是rod还是测试桩;
// 所有方法的错误都代表页面能力本身损坏(浏览器崩溃、连接断开),
// 而不是"策略不适用"
type PageDriver interface {
	// CurrentPageNumber 读取当前列表页页码
	CurrentPageNumber() (int, error)

	// NavigateToURL 导航到指定URL并等待加载完成
	NavigateToURL(url string) error

	// NavigateBack 回退一页(浏览器历史)
	NavigateBack() error

	// FirstItemURL 读取当前页第一个条目的URL
	// 页面没有条目时返回空字符串
	FirstItemURL() (string, error)

	// ClickNextPage 点击"下一页"
	ClickNextPage() error

	// FillAndSubmitJumpWidget 填写跳页控件并提交
	// 控件不存在或不可交互时返回错误
	FillAndSubmitJumpWidget(pageNumber int) error
}

// Strategy 恢复策略
// 通过(ok, page)报告结果: ok=false表示策略不适用或验证失败,
// 协调器继续尝试下一个策略; err非nil表示页面能力损坏
type Strategy interface {
	// Name 策略名称(用于日志观测)
	Name() string

	// Resume 尝试将爬取前沿移动到目标页
	// 返回(是否成功, 实际到达页码, 能力层错误)
	Resume(targetPage int) (bool, int, error)
}
