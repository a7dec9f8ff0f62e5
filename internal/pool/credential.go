package pool

import "time"

// State represents a credential's health state.
type State int

const (
	// StateAvailable means the credential may serve requests.
	StateAvailable State = iota
	// StateCoolingDown means the credential is suspended until its cooldown
	// expires.
	StateCoolingDown
	// StateInert means the credential never established a session. It does
	// not recover; a redeploy is required.
	StateInert
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateCoolingDown:
		return "cooling_down"
	case StateInert:
		return "inert"
	default:
		return "unknown"
	}
}

// secretPrefixLen is how much of a secret may appear in logs and status.
const secretPrefixLen = 8

// secretPrefix truncates a secret to its loggable prefix.
func secretPrefix(secret string) string {
	if len(secret) <= secretPrefixLen {
		return secret
	}
	return secret[:secretPrefixLen]
}

// credential tracks health and usage of one bot token. All fields are
// guarded by the owning pool's mutex.
type credential struct {
	secret        string
	conn          Conn
	lastUsed      time.Time
	failures      int
	state         State
	cooldownUntil time.Time
}

func newCredential(secret string) *credential {
	return &credential{secret: secret, state: StateAvailable}
}

// id returns the loggable identifier for the credential.
func (c *credential) id() string {
	return secretPrefix(c.secret)
}

// available reports whether the credential can serve requests. A credential
// without an established session is never a candidate, even before the dial
// fan-out has run.
func (c *credential) available() bool {
	return c.state == StateAvailable && c.conn != nil
}

// markError records one reported failure. Reaching the threshold moves the
// credential into cooldown; the session stays open so it can resume after
// recovery.
func (c *credential) markError(threshold int, cooldown time.Duration) {
	c.failures++
	if c.state == StateAvailable && c.failures >= threshold {
		c.state = StateCoolingDown
		c.cooldownUntil = time.Now().Add(cooldown)
	}
}

// checkCooldown lifts an expired cooldown and reports whether the credential
// recovered. This is the only path back to service; inert credentials are
// skipped.
func (c *credential) checkCooldown() bool {
	if c.state != StateCoolingDown || !time.Now().After(c.cooldownUntil) {
		return false
	}
	c.state = StateAvailable
	c.failures = 0
	c.cooldownUntil = time.Time{}
	return true
}
