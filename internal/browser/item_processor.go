package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
	"github.com/RecoveryAshes/CrawlGuard/internal/utils"
)

// ItemSaver 条目页保存器
// worker池的处理协作方: 为每个条目开独立标签页,抓取完整渲染后的
// HTML并落盘; 文件名用任务ID,重复处理天然幂等(覆盖写同一文件)
type ItemSaver struct {
	browser   *rod.Browser
	outputDir string
}

// NewItemSaver 创建条目保存器
func NewItemSaver(browser *rod.Browser, outputDir string) (*ItemSaver, error) {
	itemsDir := filepath.Join(outputDir, "items")
	if err := os.MkdirAll(itemsDir, 0755); err != nil {
		return nil, fmt.Errorf("创建条目输出目录失败: %w", err)
	}
	return &ItemSaver{browser: browser, outputDir: itemsDir}, nil
}

// ProcessItem 抓取单个条目页并保存HTML
func (s *ItemSaver) ProcessItem(ctx context.Context, delivery models.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: delivery.URL})
	if err != nil {
		return fmt.Errorf("打开条目页失败 [%s]: %w", delivery.URL, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			utils.Debugf("关闭条目标签页失败: %v", closeErr)
		}
	}()

	if err := page.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("等待条目页加载失败 [%s]: %w", delivery.URL, err)
	}

	html, err := page.HTML()
	if err != nil {
		return fmt.Errorf("读取条目页HTML失败 [%s]: %w", delivery.URL, err)
	}

	path := filepath.Join(s.outputDir, delivery.TaskID+".html")
	if err := os.WriteFile(path, []byte(html), 0644); err != nil {
		return fmt.Errorf("保存条目文件失败 [%s]: %w", path, err)
	}

	utils.Debugf("条目已保存: %s -> %s", delivery.URL, path)
	return nil
}
