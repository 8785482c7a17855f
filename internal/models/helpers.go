package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// CanonicalizeURL 规范化URL
// 同一资源的不同写法归一为相同字符串: 协议和主机名小写、去掉fragment、
// 去掉默认端口、空路径归一为"/"
func CanonicalizeURL(urlStr string) string {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return urlStr
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	// 去掉默认端口
	if (parsed.Scheme == "http" && strings.HasSuffix(parsed.Host, ":80")) ||
		(parsed.Scheme == "https" && strings.HasSuffix(parsed.Host, ":443")) {
		parsed.Host = parsed.Host[:strings.LastIndex(parsed.Host, ":")]
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	}

	return parsed.String()
}

// TaskIDForURL 计算URL的稳定任务ID
// 队列的task_id空间与检查点的collected_item_ids共享同一标识:
// 都是规范化URL的哈希
func TaskIDForURL(urlStr string) string {
	sum := sha256.Sum256([]byte(CanonicalizeURL(urlStr)))
	return hex.EncodeToString(sum[:16])
}

// GenerateDeliveryID 生成投递唯一ID
func GenerateDeliveryID() string {
	return uuid.New().String()
}
