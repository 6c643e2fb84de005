// Package ratelimit enforces the per-caller analysis allowance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// ErrRateLimited is returned when a caller exceeded its allowance
var ErrRateLimited = errors.New("rate limit exceeded")

// RejectionMessage is shown to rejected callers
const RejectionMessage = "Rate limit exceeded. To keep this tool free, analysis is limited to 5 searches every 5 minutes. " +
	"Buy Me A Fuel Top-Up in the Footer helps with server costs"

const keyPrefix = "rate_limit:"

// Counter is an atomic increment-with-expiry store. The expiry is set only
// when the increment creates the key.
type Counter interface {
	Incr(ctx context.Context, key string, period time.Duration) (int64, error)
}

// Allowance is N calls per period. Calls <= 0 disables limiting.
type Allowance struct {
	Calls  int
	Period time.Duration
}

// Caller describes who is asking
type Caller struct {
	ClientID     string
	ForwardedFor string
	RemoteAddr   string
	Exempt       bool // authorized kiosk forced refresh
}

// IP is the first X-Forwarded-For entry, else the peer address without port
func (c Caller) IP() string {
	if c.ForwardedFor != "" {
		if first := strings.TrimSpace(strings.Split(c.ForwardedFor, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(c.RemoteAddr); err == nil {
		return host
	}
	return c.RemoteAddr
}

// Identifier is the client id unless it is empty or a sentinel, else the IP
func (c Caller) Identifier() string {
	id := strings.TrimSpace(c.ClientID)
	switch strings.ToLower(id) {
	case "", "unknown", "null", "undefined":
		return c.IP()
	}
	return id
}

// Decision reports how a request was admitted
type Decision struct {
	Allowed    bool
	Identifier string
	Count      int64
	Limit      int
	Reason     string // exempt_network, exempt_caller, disabled, counted, store_error
}

// Limiter admits or rejects callers
type Limiter struct {
	counter   Counter
	exempt    []*net.IPNet
	allowance func() Allowance
	logger    *logger.Logger
}

// New creates a limiter. allowance is read on every call so runtime settings apply immediately.
func New(counter Counter, exemptCIDRs []string, allowance func() Allowance, log *logger.Logger) (*Limiter, error) {
	nets := make([]*net.IPNet, 0, len(exemptCIDRs))
	for _, cidr := range exemptCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid exempt cidr %q: %w", cidr, err)
		}
		nets = append(nets, n)
	}
	return &Limiter{
		counter:   counter,
		exempt:    nets,
		allowance: allowance,
		logger:    log.Named("ratelimit"),
	}, nil
}

// Admit counts the request against the caller's allowance. A rejection returns
// ErrRateLimited with the decision filled in.
func (l *Limiter) Admit(ctx context.Context, caller Caller) (Decision, error) {
	a := l.allowance()
	d := Decision{Allowed: true, Identifier: caller.Identifier(), Limit: a.Calls}

	if a.Calls <= 0 {
		d.Reason = "disabled"
		return d, nil
	}
	if caller.Exempt {
		d.Reason = "exempt_caller"
		return d, nil
	}
	if l.isExemptIP(caller.IP()) {
		d.Reason = "exempt_network"
		return d, nil
	}

	count, err := l.counter.Incr(ctx, keyPrefix+d.Identifier, a.Period)
	if err != nil {
		// Fail open when the counter store is unreachable
		l.logger.Warn("Rate limit counter unavailable, admitting request",
			logger.String("identifier", d.Identifier),
			logger.Error(err))
		d.Reason = "store_error"
		return d, nil
	}

	d.Count = count
	d.Reason = "counted"
	l.logger.Debug("Rate limit check",
		logger.String("identifier", d.Identifier),
		logger.Int64("count", count),
		logger.Int("limit", a.Calls))

	if count > int64(a.Calls) {
		d.Allowed = false
		return d, fmt.Errorf("%w: %s made %d calls, limit %d per %s", ErrRateLimited, d.Identifier, count, a.Calls, a.Period)
	}
	return d, nil
}

func (l *Limiter) isExemptIP(raw string) bool {
	ip := net.ParseIP(raw)
	if ip == nil {
		return false
	}
	for _, n := range l.exempt {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
