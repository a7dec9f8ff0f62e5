// Package pool spreads outbound Telegram calls across a set of
// interchangeable bot credentials.
package pool

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Aalis/tg-parse/internal/logger"
	"github.com/Aalis/tg-parse/internal/metrics"
)

// ErrExhausted is returned by Acquire when every credential is cooling down
// or inert. Callers should surface it as a retryable condition.
var ErrExhausted = errors.New("no available credentials")

// Conn is a live backend session bound to one credential.
type Conn interface {
	Disconnect() error
}

// Dialer establishes a session for a credential secret.
type Dialer interface {
	Dial(ctx context.Context, secret string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, secret string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, secret string) (Conn, error) {
	return f(ctx, secret)
}

// Config holds pool configuration.
type Config struct {
	// Secrets is the list of bot tokens. At least one is required.
	Secrets []string
	// Dialer establishes sessions during the dial fan-out.
	Dialer Dialer
	// FailureThreshold is the number of reported failures before cooldown.
	FailureThreshold int
	// Cooldown is how long a credential stays suspended.
	Cooldown time.Duration
	// StalenessCap bounds the selection bonus for idle credentials.
	StalenessCap time.Duration
}

// Pool owns the credential set and arbitrates which session serves the next
// outbound call. A credential may serve multiple concurrent requests; the
// pool gives no exclusivity guarantee.
type Pool struct {
	mu           sync.Mutex
	creds        []*credential
	dialer       Dialer
	threshold    int
	cooldown     time.Duration
	stalenessCap time.Duration
	rand         *rand.Rand
}

// New creates a pool from the configured secrets. The credential set is
// fixed for the life of the process.
func New(cfg Config) (*Pool, error) {
	secrets := make([]string, 0, len(cfg.Secrets))
	for _, s := range cfg.Secrets {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}
	if len(secrets) == 0 {
		return nil, errors.New("at least one bot token is required")
	}
	if cfg.Dialer == nil {
		return nil, errors.New("dialer is required")
	}

	p := &Pool{
		dialer:       cfg.Dialer,
		threshold:    cfg.FailureThreshold,
		cooldown:     cfg.Cooldown,
		stalenessCap: cfg.StalenessCap,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, s := range secrets {
		p.creds = append(p.creds, newCredential(s))
	}

	metrics.CredentialsTotal.Set(float64(len(p.creds)))
	metrics.CredentialsAvailable.Set(0)
	logger.Info("pool_initialized", "credentials", len(p.creds))
	return p, nil
}

// Dial establishes a session for every credential. The fan-out is
// best-effort: a credential whose dial fails turns inert and the others
// proceed. Inert credentials stay in the pool for status reporting but are
// never selected.
func (p *Pool) Dial(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range p.creds {
		wg.Add(1)
		go func(c *credential) {
			defer wg.Done()
			conn, err := p.dialer.Dial(ctx, c.secret)

			p.mu.Lock()
			defer p.mu.Unlock()
			if err != nil {
				c.state = StateInert
				metrics.DialFailuresTotal.Inc()
				logger.LogDialFailure(c.id(), err)
				return
			}
			c.conn = conn
			logger.Info("credential_session_established", "credential", c.id())
		}(c)
	}
	wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	metrics.CredentialsAvailable.Set(float64(len(p.availableLocked())))
}

// Acquire returns a session to serve one or more backend calls. Expired
// cooldowns are swept here; there is no background timer. Returns
// ErrExhausted when no credential is available, including before Dial has
// established any session.
func (p *Pool) Acquire() (Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.checkCooldown() {
			metrics.RecoveriesTotal.Inc()
			logger.LogRecovery(c.id())
		}
	}

	candidates := p.availableLocked()
	metrics.CredentialsAvailable.Set(float64(len(candidates)))
	if len(candidates) == 0 {
		metrics.ExhaustionsTotal.Inc()
		logger.Warn("pool_exhausted", "total", len(p.creds))
		return nil, ErrExhausted
	}

	now := time.Now()
	chosen := p.pickLocked(candidates, now)
	chosen.lastUsed = now

	metrics.AcquisitionsTotal.WithLabelValues(chosen.id()).Inc()
	logger.LogAcquire(chosen.id(), len(candidates))
	return chosen.conn, nil
}

// availableLocked returns the currently selectable credentials.
func (p *Pool) availableLocked() []*credential {
	out := make([]*credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.available() {
			out = append(out, c)
		}
	}
	return out
}

// pickLocked draws one candidate with weight 1 + min(idle minutes, cap).
// Recently used credentials are de-prioritized but never excluded, so bursts
// still spread across every healthy credential. Cumulative weights plus a
// single uniform draw keep every candidate reachable.
func (p *Pool) pickLocked(candidates []*credential, now time.Time) *credential {
	capMinutes := p.stalenessCap.Minutes()
	cumulative := make([]float64, len(candidates))
	total := 0.0
	for i, c := range candidates {
		idleMinutes := now.Sub(c.lastUsed).Minutes()
		if idleMinutes > capMinutes {
			idleMinutes = capMinutes
		}
		total += 1 + idleMinutes
		cumulative[i] = total
	}

	r := p.rand.Float64() * total
	for i, w := range cumulative {
		if r < w {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// ReportFailure records a backend failure against the credential owning the
// given session. Unknown sessions are ignored so stale handles are harmless.
func (p *Pool) ReportFailure(conn Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.conn != conn {
			continue
		}
		wasAvailable := c.available()
		c.markError(p.threshold, p.cooldown)
		metrics.ReportedFailuresTotal.WithLabelValues(c.id()).Inc()
		if wasAvailable && c.state == StateCoolingDown {
			metrics.CooldownsTotal.Inc()
			metrics.CredentialsAvailable.Set(float64(len(p.availableLocked())))
			logger.LogCooldown(c.id(), c.failures, c.cooldownUntil)
		}
		return
	}
}

// CloseAll disconnects every established session. Close failures are logged
// and do not stop the sweep.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.conn == nil {
			continue
		}
		if err := c.conn.Disconnect(); err != nil {
			logger.LogError("credential_disconnect", err, "credential", c.id())
			continue
		}
		logger.Debug("credential_disconnected", "credential", c.id())
	}
}

// UpdateHealthConfig updates failure handling at runtime.
func (p *Pool) UpdateHealthConfig(threshold int, cooldown, stalenessCap time.Duration) {
	p.mu.Lock()
	p.threshold = threshold
	p.cooldown = cooldown
	p.stalenessCap = stalenessCap
	p.mu.Unlock()
	logger.Info("pool_health_config_updated",
		"failure_threshold", threshold,
		"cooldown", cooldown,
		"staleness_cap", stalenessCap,
	)
}

// CredentialStatus describes one credential in a status snapshot. The ID is
// a truncated secret prefix; full secrets never leave the pool.
type CredentialStatus struct {
	ID            string     `json:"id"`
	State         string     `json:"state"`
	Failures      int        `json:"failures"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Status is a point-in-time snapshot of the pool.
type Status struct {
	Total       int                `json:"total"`
	Available   int                `json:"available"`
	Credentials []CredentialStatus `json:"credentials"`
}

// Status returns a snapshot of every credential's health.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Total:       len(p.creds),
		Credentials: make([]CredentialStatus, 0, len(p.creds)),
	}
	for _, c := range p.creds {
		cs := CredentialStatus{
			ID:       c.id(),
			State:    c.state.String(),
			Failures: c.failures,
		}
		if c.state == StateCoolingDown {
			until := c.cooldownUntil
			cs.CooldownUntil = &until
		}
		if c.available() {
			st.Available++
		}
		st.Credentials = append(st.Credentials, cs)
	}
	return st
}
