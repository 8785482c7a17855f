package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Rate       RateConfig       `mapstructure:"rate"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Resume     ResumeConfig     `mapstructure:"resume"`
	Workers    WorkersConfig    `mapstructure:"workers"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Output     OutputConfig     `mapstructure:"output"`
}

// RateConfig 自适应速率控制配置
type RateConfig struct {
	BaseDelay         float64 `mapstructure:"base_delay"`         // 基础延迟(秒)
	BackoffFactor     float64 `mapstructure:"backoff_factor"`     // 退避倍率
	MaxLevel          int     `mapstructure:"max_level"`          // 最大退避等级
	RecoveryThreshold int     `mapstructure:"recovery_threshold"` // 降级所需连续成功数
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Backend           string `mapstructure:"backend"`             // memory | badger
	DataDir           string `mapstructure:"data_dir"`            // badger数据目录
	MaxRetries        int    `mapstructure:"max_retries"`         // 失败重试上限
	MaxIdleSeconds    int    `mapstructure:"max_idle_seconds"`    // 租约空闲超时(秒)
	BlockTimeoutMs    int    `mapstructure:"block_timeout_ms"`    // Claim阻塞等待(毫秒)
	RecoverIntervalMs int    `mapstructure:"recover_interval_ms"` // 僵尸租约扫描间隔(毫秒)
}

// CheckpointConfig 检查点配置
type CheckpointConfig struct {
	Backend        string `mapstructure:"backend"`          // file | badger
	Dir            string `mapstructure:"dir"`              // file后端目录
	DataDir        string `mapstructure:"data_dir"`         // badger后端目录
	SaveEveryPages int    `mapstructure:"save_every_pages"` // 每处理N页保存一次
}

// ResumeConfig 断点恢复配置
type ResumeConfig struct {
	MaxSkipPages int `mapstructure:"max_skip_pages"` // 智能跳过的最大翻页数
}

// WorkersConfig 消费worker池配置
type WorkersConfig struct {
	MaxWorkers          int  `mapstructure:"max_workers"`            // worker数上限
	ClaimBatchSize      int  `mapstructure:"claim_batch_size"`       // 单次领取数
	SafetyReserveMB     int  `mapstructure:"safety_reserve_mb"`      // 安全保留内存(MB)
	SafetyThresholdMB   int  `mapstructure:"safety_threshold_mb"`    // 安全阈值(MB)
	CPULoadThreshold    int  `mapstructure:"cpu_load_threshold"`     // CPU负载阈值(%)
	ResourceMonitorOn   bool `mapstructure:"resource_monitor"`       // 是否启用资源监控
	WorkerMemoryUsageMB int  `mapstructure:"worker_memory_usage_mb"` // 单worker内存估算(MB)
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless        bool   `mapstructure:"headless"`          // 无头模式
	ItemLinks       string `mapstructure:"item_links"`        // 全部条目链接选择器
	FirstItemLink   string `mapstructure:"first_item_link"`   // 第一个条目链接选择器
	NextPageButton  string `mapstructure:"next_page_button"`  // 下一页按钮选择器
	JumpInput       string `mapstructure:"jump_input"`        // 跳页输入框选择器
	JumpSubmit      string `mapstructure:"jump_submit"`       // 跳页提交按钮选择器
	ActivePage      string `mapstructure:"active_page"`       // 当前页码元素选择器
	RateLimitMarker string `mapstructure:"rate_limit_marker"` // 限流/验证码特征选择器
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		// 使用指定的配置文件
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 添加配置搜索路径
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		// 用户主目录
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".crawlguard"))
		}
	}

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在,使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在,使用默认值
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 速率控制默认值
	v.SetDefault("rate.base_delay", 1.0)
	v.SetDefault("rate.backoff_factor", 1.5)
	v.SetDefault("rate.max_level", 3)
	v.SetDefault("rate.recovery_threshold", 5)

	// 队列默认值
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.data_dir", "data/queue")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.max_idle_seconds", 300)
	v.SetDefault("queue.block_timeout_ms", 2000)
	v.SetDefault("queue.recover_interval_ms", 30000)

	// 检查点默认值
	v.SetDefault("checkpoint.backend", "file")
	v.SetDefault("checkpoint.dir", "data/checkpoints")
	v.SetDefault("checkpoint.data_dir", "data/checkpoints_db")
	v.SetDefault("checkpoint.save_every_pages", 1)

	// 恢复默认值
	v.SetDefault("resume.max_skip_pages", 50)

	// worker池默认值
	v.SetDefault("workers.max_workers", 4)
	v.SetDefault("workers.claim_batch_size", 1)
	v.SetDefault("workers.safety_reserve_mb", 512)
	v.SetDefault("workers.safety_threshold_mb", 256)
	v.SetDefault("workers.cpu_load_threshold", 85)
	v.SetDefault("workers.resource_monitor", true)
	v.SetDefault("workers.worker_memory_usage_mb", 32)

	// 浏览器默认值
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.item_links", ".list-item a, .item a, li.result a")
	v.SetDefault("browser.first_item_link", ".list-item a, .item a, li.result a")
	v.SetDefault("browser.next_page_button", ".pagination .next, a.next-page, a[rel=next]")
	v.SetDefault("browser.jump_input", ".pagination input[type=number], .pagination input.jump")
	v.SetDefault("browser.jump_submit", ".pagination button.jump, .pagination .jump-go")
	v.SetDefault("browser.active_page", ".pagination .active, .pagination .current")
	v.SetDefault("browser.rate_limit_marker", ".captcha, #captcha, .rate-limit-notice")

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出配置默认值
	v.SetDefault("output.base_dir", "output")
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Rate.BaseDelay <= 0 {
		return fmt.Errorf("无效的基础延迟: %v, 必须大于0", c.Rate.BaseDelay)
	}
	if c.Rate.BackoffFactor <= 1.0 {
		return fmt.Errorf("无效的退避倍率: %v, 必须大于1.0", c.Rate.BackoffFactor)
	}
	if c.Rate.MaxLevel < 0 {
		return fmt.Errorf("无效的最大退避等级: %d", c.Rate.MaxLevel)
	}
	if c.Rate.RecoveryThreshold <= 0 {
		return fmt.Errorf("无效的恢复阈值: %d, 必须大于0", c.Rate.RecoveryThreshold)
	}
	switch c.Queue.Backend {
	case "memory", "badger":
	default:
		return fmt.Errorf("不支持的队列后端: %s (可选: memory, badger)", c.Queue.Backend)
	}
	switch c.Checkpoint.Backend {
	case "file", "badger":
	default:
		return fmt.Errorf("不支持的检查点后端: %s (可选: file, badger)", c.Checkpoint.Backend)
	}
	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("无效的最大重试次数: %d, 必须大于0", c.Queue.MaxRetries)
	}
	if c.Checkpoint.SaveEveryPages <= 0 {
		return fmt.Errorf("无效的检查点保存间隔: %d, 必须大于0", c.Checkpoint.SaveEveryPages)
	}
	if c.Resume.MaxSkipPages <= 0 {
		return fmt.Errorf("无效的最大跳过页数: %d, 必须大于0", c.Resume.MaxSkipPages)
	}
	return nil
}

// BlockTimeout Claim阻塞等待时长
func (c *QueueConfig) BlockTimeout() time.Duration {
	return time.Duration(c.BlockTimeoutMs) * time.Millisecond
}

// MaxIdle 租约空闲超时
func (c *QueueConfig) MaxIdle() time.Duration {
	return time.Duration(c.MaxIdleSeconds) * time.Second
}

// RecoverInterval 僵尸租约扫描间隔
func (c *QueueConfig) RecoverInterval() time.Duration {
	return time.Duration(c.RecoverIntervalMs) * time.Millisecond
}

// MergeCLIFlags 合并命令行参数到配置
func (c *Config) MergeCLIFlags(
	baseDelay float64,
	maxRetries int,
	maxWorkers int,
	queueBackend string,
	checkpointBackend string,
	headless bool,
) {
	// 命令行参数优先于配置文件
	if baseDelay > 0 {
		c.Rate.BaseDelay = baseDelay
	}
	if maxRetries > 0 {
		c.Queue.MaxRetries = maxRetries
	}
	if maxWorkers > 0 {
		c.Workers.MaxWorkers = maxWorkers
	}
	if queueBackend != "" {
		c.Queue.Backend = queueBackend
	}
	if checkpointBackend != "" {
		c.Checkpoint.Backend = checkpointBackend
	}
	c.Browser.Headless = headless
}
