package transport

import (
	"math"
	"time"

	"github.com/wfunc/tabletop-client/internal/config"
)

// ReconnectPolicy 有界指数退避
type ReconnectPolicy struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	maxAttempt int
	attempts   int
}

// NewReconnectPolicy 根据配置创建重连策略，未启用时返回 nil
func NewReconnectPolicy(cfg config.ReconnectConfig) *ReconnectPolicy {
	if !cfg.Enabled {
		return nil
	}
	p := &ReconnectPolicy{
		initial:    cfg.InitialInterval,
		max:        cfg.MaxInterval,
		multiplier: cfg.Multiplier,
		maxAttempt: cfg.MaxAttempts,
	}
	if p.initial <= 0 {
		p.initial = 500 * time.Millisecond
	}
	if p.max < p.initial {
		p.max = p.initial
	}
	if p.multiplier < 1 {
		p.multiplier = 1
	}
	return p
}

// Next 返回下一次重连前的等待时间；超过最大次数时 ok=false
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	if p.maxAttempt > 0 && p.attempts >= p.maxAttempt {
		return 0, false
	}
	delay := float64(p.initial) * math.Pow(p.multiplier, float64(p.attempts))
	p.attempts++
	if delay > float64(p.max) {
		return p.max, true
	}
	return time.Duration(delay), true
}

// Attempts 已经尝试的次数
func (p *ReconnectPolicy) Attempts() int {
	return p.attempts
}

// Reset 连接成功后重置
func (p *ReconnectPolicy) Reset() {
	p.attempts = 0
}
