package ratelimit

import (
	"math"
	"testing"

	"github.com/RecoveryAshes/CrawlGuard/internal/models"
)

func newTestController() *Controller {
	return NewController(Config{
		BaseDelay:         1.0,
		BackoffFactor:     1.5,
		MaxLevel:          3,
		RecoveryThreshold: 5,
	})
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestController_GetDelay(t *testing.T) {
	tests := []struct {
		name        string
		level       int
		wantSeconds float64
	}{
		{"等级0-基础延迟", 0, 1.0},
		{"等级1", 1, 1.5},
		{"等级2", 2, 2.25},
		{"等级3", 3, 3.375},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController()
			c.SetLevel(tt.level)
			if got := c.GetDelay().Seconds(); !almostEqual(got, tt.wantSeconds) {
				t.Errorf("期望延迟=%v秒, 实际=%v秒", tt.wantSeconds, got)
			}
		})
	}
}

func TestController_ApplyPenalty(t *testing.T) {
	c := newTestController()

	// 连续3次惩罚,等级逐级上升
	for i := 1; i <= 3; i++ {
		c.ApplyPenalty()
		if c.Level() != i {
			t.Errorf("第%d次惩罚后期望等级=%d, 实际=%d", i, i, c.Level())
		}
	}
	if got := c.GetDelay().Seconds(); !almostEqual(got, 3.375) {
		t.Errorf("3次惩罚后期望延迟=3.375秒, 实际=%v秒", got)
	}

	// 已达上限,继续惩罚不再升级
	c.ApplyPenalty()
	if c.Level() != 3 {
		t.Errorf("超过上限后期望等级=3, 实际=%d", c.Level())
	}
}

func TestController_RecordSuccess(t *testing.T) {
	c := newTestController()
	for i := 0; i < 3; i++ {
		c.ApplyPenalty()
	}

	// 前4次成功不触发降级
	for i := 0; i < 4; i++ {
		c.RecordSuccess()
	}
	if c.Level() != 3 {
		t.Errorf("未达阈值期望等级=3, 实际=%d", c.Level())
	}

	// 第5次成功触发降级
	c.RecordSuccess()
	if c.Level() != 2 {
		t.Errorf("达到阈值后期望等级=2, 实际=%d", c.Level())
	}
	if got := c.GetDelay().Seconds(); !almostEqual(got, 2.25) {
		t.Errorf("期望延迟=2.25秒, 实际=%v秒", got)
	}

	// 再5次成功继续降级
	for i := 0; i < 5; i++ {
		c.RecordSuccess()
	}
	if c.Level() != 1 {
		t.Errorf("期望等级=1, 实际=%d", c.Level())
	}
	if got := c.GetDelay().Seconds(); !almostEqual(got, 1.5) {
		t.Errorf("期望延迟=1.5秒, 实际=%v秒", got)
	}
}

func TestController_PenaltyResetsSuccessCount(t *testing.T) {
	c := newTestController()
	c.ApplyPenalty()

	// 4次成功后一次惩罚,成功计数清零
	for i := 0; i < 4; i++ {
		c.RecordSuccess()
	}
	c.ApplyPenalty()

	// 之后4次成功不足以降级(需要重新攒满5次)
	for i := 0; i < 4; i++ {
		c.RecordSuccess()
	}
	if c.Level() != 2 {
		t.Errorf("惩罚清零后期望等级=2, 实际=%d", c.Level())
	}
}

func TestController_SuccessAtLevelZero(t *testing.T) {
	c := newTestController()

	// 等级0时大量成功不产生负等级
	for i := 0; i < 20; i++ {
		c.RecordSuccess()
	}
	if c.Level() != 0 {
		t.Errorf("期望等级=0, 实际=%d", c.Level())
	}
	if got := c.GetDelay().Seconds(); !almostEqual(got, 1.0) {
		t.Errorf("期望延迟=1.0秒, 实际=%v秒", got)
	}
}

func TestController_SetLevel(t *testing.T) {
	tests := []struct {
		name      string
		input     int
		wantLevel int
	}{
		{"正常值", 2, 2},
		{"负数钳制到0", -1, 0},
		{"超上限钳制到最大等级", 99, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController()
			c.SetLevel(tt.input)
			if c.Level() != tt.wantLevel {
				t.Errorf("期望等级=%d, 实际=%d", tt.wantLevel, c.Level())
			}
		})
	}
}

func TestController_SnapshotRestore(t *testing.T) {
	c := newTestController()
	c.ApplyPenalty()
	c.ApplyPenalty()
	c.RecordSuccess()
	c.RecordSuccess()

	state := c.Snapshot()
	if state.Level != 2 || state.ConsecutiveSuccesses != 2 {
		t.Fatalf("快照状态不符: %+v", state)
	}

	restored := newTestController()
	restored.Restore(state)
	if restored.Level() != 2 {
		t.Errorf("恢复后期望等级=2, 实际=%d", restored.Level())
	}

	// 恢复的成功计数继续生效: 再3次成功即降级
	for i := 0; i < 3; i++ {
		restored.RecordSuccess()
	}
	if restored.Level() != 1 {
		t.Errorf("恢复计数后期望等级=1, 实际=%d", restored.Level())
	}
}

func TestController_RestoreClampsCorruptState(t *testing.T) {
	c := newTestController()
	c.Restore(models.RateState{Level: 99, ConsecutiveSuccesses: -5})
	if c.Level() != 3 {
		t.Errorf("损坏状态期望钳制到等级3, 实际=%d", c.Level())
	}
	c2 := newTestController()
	c2.Restore(models.RateState{Level: -7})
	if c2.Level() != 0 {
		t.Errorf("负等级期望钳制到0, 实际=%d", c2.Level())
	}
}
