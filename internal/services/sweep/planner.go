package sweep

import (
	"math/rand"
	"time"

	"github.com/BearBump/FulfillBox/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	OrderedMinDelay time.Duration // default: 30 minutes
	OrderedMaxDelay time.Duration // default: 90 minutes

	PartialDelay time.Duration // default: 60 minutes
	PendingDelay time.Duration // default: 15 minutes
	FinalDelay   time.Duration // default: 30 days

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		OrderedMinDelay: 30 * time.Minute,
		OrderedMaxDelay: 90 * time.Minute,

		PartialDelay: 60 * time.Minute,
		PendingDelay: 15 * time.Minute,
		FinalDelay:   30 * 24 * time.Hour,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.OrderedMinDelay <= 0 {
		cfg.OrderedMinDelay = def.OrderedMinDelay
	}
	if cfg.OrderedMaxDelay <= 0 {
		cfg.OrderedMaxDelay = def.OrderedMaxDelay
	}
	if cfg.OrderedMaxDelay < cfg.OrderedMinDelay {
		cfg.OrderedMaxDelay = cfg.OrderedMinDelay
	}
	if cfg.PartialDelay <= 0 {
		cfg.PartialDelay = def.PartialDelay
	}
	if cfg.PendingDelay <= 0 {
		cfg.PendingDelay = def.PendingDelay
	}
	if cfg.FinalDelay <= 0 {
		cfg.FinalDelay = def.FinalDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

// NextCheckDelay spreads ordered tracks over [min, max] so a large batch
// placed together is not polled together.
func (p *Planner) NextCheckDelay(status models.TrackStatus) time.Duration {
	switch {
	case status.Terminal():
		return p.cfg.FinalDelay
	case status == models.TrackStatusPartiallyShipped:
		return p.cfg.PartialDelay
	case status == models.TrackStatusOrdered:
		lo, hi := p.cfg.OrderedMinDelay, p.cfg.OrderedMaxDelay
		if hi == lo {
			return lo
		}
		secMin, secMax := int(lo.Seconds()), int(hi.Seconds())
		return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
	default:
		return p.cfg.PendingDelay
	}
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
