package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestLease_AcquireRelease(t *testing.T) {
	lease := NewLease(120*time.Second, nil)

	token, ok := lease.Acquire()
	require.True(t, ok)
	assert.True(t, lease.Held())

	_, ok = lease.Acquire()
	assert.False(t, ok, "second acquire while held must fail")

	assert.True(t, lease.Release(token))
	assert.False(t, lease.Held())
}

func TestLease_StaleTokenCannotRelease(t *testing.T) {
	lease := NewLease(120*time.Second, nil)
	token, _ := lease.Acquire()
	assert.True(t, lease.Release(token))

	assert.False(t, lease.Release(token), "releasing an already-released token is a no-op")
}

func TestLease_HardExpirationReclaims(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	lease := NewLease(120*time.Second, clk)

	_, ok := lease.Acquire()
	require.True(t, ok)

	clk.advance(121 * time.Second)
	assert.False(t, lease.Held(), "expired lease must no longer report held")

	newToken, ok := lease.Acquire()
	assert.True(t, ok, "a new acquire must reclaim an expired lease")
	assert.NotEmpty(t, newToken)
}

func TestLease_MinimumHardExpiryEnforced(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	lease := NewLease(5*time.Second, clk)
	token, ok := lease.Acquire()
	require.True(t, ok)
	require.NotEmpty(t, token)

	clk.advance(60 * time.Second)
	assert.True(t, lease.Held(), "a 5s expiry must be raised to the 120s minimum")
}
