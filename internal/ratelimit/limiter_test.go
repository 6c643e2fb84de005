package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

var defaultExempt = []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8"}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newLimiter(t *testing.T, counter Counter, a Allowance) *Limiter {
	t.Helper()
	l, err := New(counter, defaultExempt, func() Allowance { return a }, logger.NewNop())
	require.NoError(t, err)
	return l
}

// --- Caller identity ---

func TestCallerIdentifier(t *testing.T) {
	assert.Equal(t, "abc-123", Caller{ClientID: "abc-123", RemoteAddr: "1.2.3.4:5"}.Identifier())
	for _, sentinel := range []string{"", "unknown", "UNKNOWN", "null", "undefined", "Undefined"} {
		assert.Equal(t, "1.2.3.4", Caller{ClientID: sentinel, RemoteAddr: "1.2.3.4:5"}.Identifier(), sentinel)
	}
	assert.Equal(t, "9.9.9.9", Caller{ForwardedFor: "9.9.9.9, 10.0.0.1", RemoteAddr: "10.0.0.1:80"}.Identifier())
	assert.Equal(t, "1.2.3.4", Caller{RemoteAddr: "1.2.3.4"}.IP())
}

// --- Window ---

func TestSixthRequestRejected(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(t, NewMemoryCounter(clk.now), Allowance{Calls: 5, Period: 300 * time.Second})
	caller := Caller{ClientID: "X", RemoteAddr: "203.0.113.7:4000"}
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Admit(ctx, caller)
		require.NoError(t, err, "request %d", i)
		assert.Equal(t, int64(i), d.Count)
		clk.t = clk.t.Add(10 * time.Second)
	}

	d, err := l.Admit(ctx, caller)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, d.Allowed)
	assert.Equal(t, "X", d.Identifier)

	clk.t = time.Date(2026, 10, 14, 12, 5, 1, 0, time.UTC)
	d, err = l.Admit(ctx, caller)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l := newLimiter(t, NewMemoryCounter(nil), Allowance{Calls: 1, Period: time.Minute})
	ctx := context.Background()

	_, err := l.Admit(ctx, Caller{ClientID: "a", RemoteAddr: "203.0.113.7:1"})
	require.NoError(t, err)
	_, err = l.Admit(ctx, Caller{ClientID: "b", RemoteAddr: "203.0.113.7:1"})
	require.NoError(t, err)
	_, err = l.Admit(ctx, Caller{ClientID: "a", RemoteAddr: "203.0.113.7:1"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

// --- Exemptions ---

func TestExemptions(t *testing.T) {
	l := newLimiter(t, NewMemoryCounter(nil), Allowance{Calls: 1, Period: time.Minute})
	ctx := context.Background()

	for _, ip := range []string{"127.0.0.1:1", "[::1]:1", "10.20.30.40:1"} {
		for i := 0; i < 3; i++ {
			d, err := l.Admit(ctx, Caller{ClientID: "same", RemoteAddr: ip})
			require.NoError(t, err)
			assert.Equal(t, "exempt_network", d.Reason)
		}
	}

	for i := 0; i < 3; i++ {
		d, err := l.Admit(ctx, Caller{ClientID: "kiosk", RemoteAddr: "203.0.113.9:1", Exempt: true})
		require.NoError(t, err)
		assert.Equal(t, "exempt_caller", d.Reason)
	}
}

func TestDisabledAllowance(t *testing.T) {
	l := newLimiter(t, NewMemoryCounter(nil), Allowance{Calls: 0, Period: time.Minute})
	for i := 0; i < 10; i++ {
		d, err := l.Admit(context.Background(), Caller{RemoteAddr: "203.0.113.7:1"})
		require.NoError(t, err)
		assert.Equal(t, "disabled", d.Reason)
	}
}

func TestAllowanceIsReadPerCall(t *testing.T) {
	a := Allowance{Calls: 1, Period: time.Minute}
	l, err := New(NewMemoryCounter(nil), nil, func() Allowance { return a }, logger.NewNop())
	require.NoError(t, err)
	caller := Caller{RemoteAddr: "203.0.113.7:1"}

	_, err = l.Admit(context.Background(), caller)
	require.NoError(t, err)
	a.Calls = 3
	_, err = l.Admit(context.Background(), caller)
	assert.NoError(t, err)
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestCounterFailureAdmits(t *testing.T) {
	l := newLimiter(t, brokenCounter{}, Allowance{Calls: 1, Period: time.Minute})
	d, err := l.Admit(context.Background(), Caller{RemoteAddr: "203.0.113.7:1"})
	require.NoError(t, err)
	assert.Equal(t, "store_error", d.Reason)
}

func TestInvalidCIDR(t *testing.T) {
	_, err := New(NewMemoryCounter(nil), []string{"not-a-cidr"}, func() Allowance { return Allowance{} }, logger.NewNop())
	assert.Error(t, err)
}
