package plans

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/scribehub/scribe/internal/pkg/errdef"
	"github.com/scribehub/scribe/internal/pkg/messages"
)

func Test_Get(t *testing.T) {
	r := NewResolver(nil)
	assert.Equal(t, "Free", r.Get("free").Name)
	assert.Equal(t, "Pro", r.Get("pro").Name)
	assert.Equal(t, "Pro", r.Get("PRO").Name)
	assert.Equal(t, "Business", r.Get("business").Name)
	assert.Equal(t, "Free", r.Get("").Name)
	assert.Equal(t, "Free", r.Get("olia").Name)
}

func Test_Queues(t *testing.T) {
	r := NewResolver(nil)
	assert.Equal(t, messages.Default, r.Get("free").Queue)
	assert.Equal(t, messages.Priority, r.Get("pro").Queue)
	assert.Equal(t, messages.Priority, r.Get("business").Queue)
}

func Test_ConfigOverride(t *testing.T) {
	cfg := viper.New()
	cfg.Set("plans.free.daily", 7)
	cfg.Set("plans.pro.concurrent", 9)
	r := NewResolver(cfg)
	assert.Equal(t, 7, r.Get("free").DailyLimit)
	assert.Equal(t, 9, r.Get("pro").ConcurrentLimit)
	assert.Equal(t, 50, r.Get("pro").DailyLimit)
}

func Test_EnsureDailyLimit(t *testing.T) {
	p := NewResolver(nil).Get("free")
	assert.Nil(t, EnsureDailyLimit(p, 0))
	assert.Nil(t, EnsureDailyLimit(p, 4))
	err := EnsureDailyLimit(p, 5)
	assert.True(t, errdef.IsLimitExceeded(err))
	assert.True(t, errdef.IsLimitExceeded(EnsureDailyLimit(p, 100)))
	// unlimited tier
	assert.Nil(t, EnsureDailyLimit(NewResolver(nil).Get("business"), 1000))
}

func Test_EnsureConcurrentLimit(t *testing.T) {
	p := NewResolver(nil).Get("free")
	assert.Nil(t, EnsureConcurrentLimit(p, 0))
	assert.True(t, errdef.IsLimitExceeded(EnsureConcurrentLimit(p, 1)))
	p = NewResolver(nil).Get("pro")
	assert.Nil(t, EnsureConcurrentLimit(p, 2))
	assert.True(t, errdef.IsLimitExceeded(EnsureConcurrentLimit(p, 3)))
}

func Test_EnsureTranslationAllowed(t *testing.T) {
	r := NewResolver(nil)
	assert.True(t, errdef.IsLimitExceeded(EnsureTranslationAllowed(r.Get("free"))))
	assert.Nil(t, EnsureTranslationAllowed(r.Get("pro")))
	assert.Nil(t, EnsureTranslationAllowed(r.Get("business")))
}
