package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}

	if config.Rate.BaseDelay != 1.0 || config.Rate.BackoffFactor != 1.5 {
		t.Errorf("速率默认值不符: %+v", config.Rate)
	}
	if config.Rate.MaxLevel != 3 || config.Rate.RecoveryThreshold != 5 {
		t.Errorf("速率默认值不符: %+v", config.Rate)
	}
	if config.Queue.Backend != "memory" || config.Queue.MaxRetries != 3 {
		t.Errorf("队列默认值不符: %+v", config.Queue)
	}
	if config.Checkpoint.Backend != "file" || config.Checkpoint.SaveEveryPages != 1 {
		t.Errorf("检查点默认值不符: %+v", config.Checkpoint)
	}
	if config.Resume.MaxSkipPages != 50 {
		t.Errorf("恢复默认值不符: %+v", config.Resume)
	}
	if config.Workers.MaxWorkers != 4 {
		t.Errorf("worker默认值不符: %+v", config.Workers)
	}
	if config.Logging.Level != "info" {
		t.Errorf("日志默认值不符: %+v", config.Logging)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
rate:
  base_delay: 2.5
  backoff_factor: 2.0
queue:
  backend: badger
  max_retries: 5
checkpoint:
  backend: badger
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if config.Rate.BaseDelay != 2.5 || config.Rate.BackoffFactor != 2.0 {
		t.Errorf("文件值未生效: %+v", config.Rate)
	}
	if config.Queue.Backend != "badger" || config.Queue.MaxRetries != 5 {
		t.Errorf("文件值未生效: %+v", config.Queue)
	}
	// 未指定的字段保留默认值
	if config.Rate.MaxLevel != 3 {
		t.Errorf("默认值丢失: %+v", config.Rate)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Rate:       RateConfig{BaseDelay: 1.0, BackoffFactor: 1.5, MaxLevel: 3, RecoveryThreshold: 5},
			Queue:      QueueConfig{Backend: "memory", MaxRetries: 3},
			Checkpoint: CheckpointConfig{Backend: "file", SaveEveryPages: 1},
			Resume:     ResumeConfig{MaxSkipPages: 50},
		}
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"合法配置", func(c *Config) {}, false},
		{"基础延迟为0", func(c *Config) { c.Rate.BaseDelay = 0 }, true},
		{"退避倍率不大于1", func(c *Config) { c.Rate.BackoffFactor = 1.0 }, true},
		{"负的最大等级", func(c *Config) { c.Rate.MaxLevel = -1 }, true},
		{"恢复阈值为0", func(c *Config) { c.Rate.RecoveryThreshold = 0 }, true},
		{"未知队列后端", func(c *Config) { c.Queue.Backend = "redis" }, true},
		{"未知检查点后端", func(c *Config) { c.Checkpoint.Backend = "s3" }, true},
		{"重试次数为0", func(c *Config) { c.Queue.MaxRetries = 0 }, true},
		{"保存间隔为0", func(c *Config) { c.Checkpoint.SaveEveryPages = 0 }, true},
		{"跳过页数为0", func(c *Config) { c.Resume.MaxSkipPages = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestConfig_MergeCLIFlags(t *testing.T) {
	config, _ := LoadConfig("")

	config.MergeCLIFlags(2.0, 5, 8, "badger", "badger", false)
	if config.Rate.BaseDelay != 2.0 || config.Queue.MaxRetries != 5 || config.Workers.MaxWorkers != 8 {
		t.Errorf("命令行覆盖未生效: %+v", config)
	}
	if config.Queue.Backend != "badger" || config.Checkpoint.Backend != "badger" {
		t.Errorf("后端覆盖未生效: %+v", config)
	}
	if config.Browser.Headless {
		t.Error("headless覆盖未生效")
	}

	// 零值参数不覆盖配置
	config.MergeCLIFlags(0, 0, 0, "", "", true)
	if config.Rate.BaseDelay != 2.0 || config.Queue.MaxRetries != 5 {
		t.Errorf("零值不应覆盖: %+v", config)
	}
}
