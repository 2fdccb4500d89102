package errdef

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFound("job %s", "1")))
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", NewNotFound("olia"))))
	assert.False(t, IsNotFound(fmt.Errorf("olia")))
	assert.False(t, IsNotFound(nil))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(NewValidation("no %s", "id")))
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", NewValidation("olia"))))
	assert.False(t, IsValidation(NewNotFound("olia")))
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(NewConflict("olia")))
	assert.True(t, IsConflict(NewRetryableConflict("olia")))
	assert.False(t, IsConflict(fmt.Errorf("olia")))
}

func TestIsRetryableConflict(t *testing.T) {
	assert.True(t, IsRetryableConflict(NewRetryableConflict("olia")))
	assert.True(t, IsRetryableConflict(fmt.Errorf("wrap: %w", NewRetryableConflict("olia"))))
	assert.False(t, IsRetryableConflict(NewConflict("olia")))
	assert.False(t, IsRetryableConflict(nil))
}

func TestIsLimitExceeded(t *testing.T) {
	assert.True(t, IsLimitExceeded(NewLimitExceeded("limit %d", 5)))
	assert.False(t, IsLimitExceeded(NewConflict("olia")))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "not found: job 1", NewNotFound("job %s", "1").Error())
	assert.Equal(t, "no id", NewValidation("no id").Error())
	assert.Equal(t, "olia", NewConflict("olia").Error())
	assert.Equal(t, "asr: olia", NewProvider("asr", fmt.Errorf("olia")).Error())
}
