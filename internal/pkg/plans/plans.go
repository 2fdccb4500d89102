package plans

import (
	"strings"

	"github.com/scribehub/scribe/internal/pkg/errdef"
	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/spf13/viper"
)

// Plan keeps quota thresholds and the queue lane for one tier
type Plan struct {
	Name string
	// 0 means unlimited
	DailyLimit      int
	ConcurrentLimit int
	Queue           string
	AllowTranslate  bool
}

// Resolver maps a user's plan tier to its definition
type Resolver struct {
	plans map[string]*Plan
}

// NewResolver creates resolver with built-in tiers, thresholds
// may be overridden from config (plans.<tier>.daily, plans.<tier>.concurrent)
func NewResolver(cfg *viper.Viper) *Resolver {
	res := &Resolver{plans: map[string]*Plan{
		"free":     {Name: "Free", DailyLimit: 5, ConcurrentLimit: 1, Queue: messages.Default},
		"pro":      {Name: "Pro", DailyLimit: 50, ConcurrentLimit: 3, Queue: messages.Priority, AllowTranslate: true},
		"business": {Name: "Business", DailyLimit: 0, ConcurrentLimit: 10, Queue: messages.Priority, AllowTranslate: true},
	}}
	if cfg != nil {
		for k, p := range res.plans {
			if v := cfg.GetInt("plans." + k + ".daily"); v > 0 {
				p.DailyLimit = v
			}
			if v := cfg.GetInt("plans." + k + ".concurrent"); v > 0 {
				p.ConcurrentLimit = v
			}
		}
	}
	return res
}

// Get returns the plan definition for a tier, falls back to free
func (r *Resolver) Get(tier string) *Plan {
	if p, ok := r.plans[strings.ToLower(tier)]; ok {
		return p
	}
	return r.plans["free"]
}

// EnsureDailyLimit fails if the user already created dailyCount jobs today
func EnsureDailyLimit(p *Plan, dailyCount int) error {
	if p.DailyLimit > 0 && dailyCount >= p.DailyLimit {
		return errdef.NewLimitExceeded("daily transcription limit of %d reached", p.DailyLimit)
	}
	return nil
}

// EnsureConcurrentLimit fails if activeCount jobs are already pending or processing
func EnsureConcurrentLimit(p *Plan, activeCount int) error {
	if activeCount >= p.ConcurrentLimit {
		return errdef.NewLimitExceeded("concurrent job limit of %d reached, wait for a job to finish", p.ConcurrentLimit)
	}
	return nil
}

// EnsureTranslationAllowed fails if the plan has no translation access
func EnsureTranslationAllowed(p *Plan) error {
	if !p.AllowTranslate {
		return errdef.NewLimitExceeded("translation is not available on the %s plan", p.Name)
	}
	return nil
}
