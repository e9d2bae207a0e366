package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("booked").Valid())
}

func TestStringPtr(t *testing.T) {
	assert.Nil(t, StringPtr(""))
	assert.Equal(t, "pro-1", Deref(StringPtr("pro-1")))
	assert.Equal(t, "", Deref(nil))
}

func TestStoredInstant(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(2*time.Microsecond), StoredInstant(base.Add(2*time.Microsecond+999)))
	assert.Equal(t, base, StoredInstant(base))
}
