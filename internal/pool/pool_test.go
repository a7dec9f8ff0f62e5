package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	secret        string
	mu            sync.Mutex
	disconnects   int
	disconnectErr error
}

func (f *fakeConn) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnectErr
}

func (f *fakeConn) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeDialer succeeds for every secret except those in failing.
type fakeDialer struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	failing map[string]bool
}

func newFakeDialer(failing ...string) *fakeDialer {
	d := &fakeDialer{
		conns:   make(map[string]*fakeConn),
		failing: make(map[string]bool),
	}
	for _, s := range failing {
		d.failing[s] = true
	}
	return d
}

func (d *fakeDialer) Dial(ctx context.Context, secret string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[secret] {
		return nil, errors.New("unauthorized")
	}
	c := &fakeConn{secret: secret}
	d.conns[secret] = c
	return c, nil
}

func newTestPool(t *testing.T, dialer Dialer, secrets []string, modify func(*Config)) *Pool {
	t.Helper()

	cfg := Config{
		Secrets:          secrets,
		Dialer:           dialer,
		FailureThreshold: 3,
		Cooldown:         time.Hour,
		StalenessCap:     10 * time.Minute,
	}
	if modify != nil {
		modify(&cfg)
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	p.Dial(context.Background())
	return p
}

func TestNew_RequiresSecrets(t *testing.T) {
	tests := []struct {
		name    string
		secrets []string
	}{
		{"empty list", nil},
		{"whitespace only", []string{"  ", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Secrets: tt.secrets, Dialer: newFakeDialer()})
			if err == nil {
				t.Error("expected error for empty credential list")
			}
		})
	}
}

func TestNew_RequiresDialer(t *testing.T) {
	_, err := New(Config{Secrets: []string{"token-a"}})
	if err == nil {
		t.Error("expected error for missing dialer")
	}
}

func TestPool_AcquireBeforeDial(t *testing.T) {
	p, err := New(Config{
		Secrets:          []string{"token-a"},
		Dialer:           newFakeDialer(),
		FailureThreshold: 3,
		Cooldown:         time.Hour,
		StalenessCap:     10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if _, err := p.Acquire(); !errors.Is(err, ErrExhausted) {
		t.Errorf("Acquire() before Dial should exhaust, got %v", err)
	}
}

func TestPool_AcquireReturnsHandle(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a"}, nil)

	conn, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if conn != dialer.conns["token-a"] {
		t.Error("expected the established session handle")
	}
}

func TestPool_HandleReusedAcrossAcquisitions(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a"}, nil)

	first, _ := p.Acquire()
	second, _ := p.Acquire()
	if first != second {
		t.Error("a credential's session should be reused, not re-established")
	}
}

func TestPool_ThresholdTripsCooldown(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a"}, nil)

	conn, _ := p.Acquire()

	p.ReportFailure(conn)
	p.ReportFailure(conn)

	st := p.Status()
	if st.Available != 1 {
		t.Errorf("credential should survive 2 failures, available = %d", st.Available)
	}
	if st.Credentials[0].Failures != 2 {
		t.Errorf("expected 2 failures, got %d", st.Credentials[0].Failures)
	}

	p.ReportFailure(conn)

	st = p.Status()
	if st.Available != 0 {
		t.Errorf("third failure should trip cooldown, available = %d", st.Available)
	}
	if st.Credentials[0].State != "cooling_down" {
		t.Errorf("expected cooling_down, got %s", st.Credentials[0].State)
	}
	if st.Credentials[0].CooldownUntil == nil {
		t.Error("cooling credential should report its cooldown expiry")
	}

	if _, err := p.Acquire(); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestPool_CooldownRecovery(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a"}, func(cfg *Config) {
		cfg.Cooldown = 50 * time.Millisecond
	})

	conn, _ := p.Acquire()
	for i := 0; i < 3; i++ {
		p.ReportFailure(conn)
	}

	if _, err := p.Acquire(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted during cooldown, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	recovered, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() after cooldown expiry: %v", err)
	}
	if recovered != conn {
		t.Error("expected the same session handle after recovery")
	}

	st := p.Status()
	if st.Credentials[0].State != "available" {
		t.Errorf("expected available after recovery, got %s", st.Credentials[0].State)
	}
	if st.Credentials[0].Failures != 0 {
		t.Errorf("failures should reset on recovery, got %d", st.Credentials[0].Failures)
	}
}

func TestPool_ReportFailureUnknownHandle(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a"}, nil)

	// Foreign and nil handles are ignored
	p.ReportFailure(&fakeConn{secret: "foreign"})
	p.ReportFailure(nil)

	st := p.Status()
	if st.Credentials[0].Failures != 0 {
		t.Errorf("foreign handle must not affect failure counts, got %d", st.Credentials[0].Failures)
	}
}

func TestPool_DialFailureTurnsInert(t *testing.T) {
	dialer := newFakeDialer("token-b")
	p := newTestPool(t, dialer, []string{"token-a", "token-b", "token-c"}, func(cfg *Config) {
		cfg.Cooldown = 20 * time.Millisecond
	})

	st := p.Status()
	if st.Total != 3 {
		t.Fatalf("expected 3 credentials, got %d", st.Total)
	}
	if st.Available != 2 {
		t.Errorf("expected 2 available after dial failure, got %d", st.Available)
	}
	if st.Credentials[1].State != "inert" {
		t.Errorf("expected inert, got %s", st.Credentials[1].State)
	}
	if st.Credentials[1].Failures != 0 {
		t.Errorf("inert credential should have 0 failures, got %d", st.Credentials[1].Failures)
	}

	// Even after any cooldown period would have passed, the inert
	// credential is never selected.
	time.Sleep(30 * time.Millisecond)
	for i := 0; i < 200; i++ {
		conn, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		if conn.(*fakeConn).secret == "token-b" {
			t.Fatal("inert credential must never be selected")
		}
	}
}

func TestPool_AcquireSpreadsAcrossCredentials(t *testing.T) {
	dialer := newFakeDialer()
	secrets := []string{"token-a", "token-b", "token-c", "token-d"}
	p := newTestPool(t, dialer, secrets, nil)

	const rounds = 4000
	counts := make(map[string]int)
	for i := 0; i < rounds; i++ {
		conn, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		counts[conn.(*fakeConn).secret]++
	}

	// Expectation is rounds/4 per credential; allow a wide band to keep the
	// test stable.
	for _, s := range secrets {
		if counts[s] < rounds/8 {
			t.Errorf("credential %s selected %d times, expected roughly %d", s, counts[s], rounds/4)
		}
	}
}

func TestPool_AcquireBiasesTowardStale(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a", "token-b"}, nil)

	const rounds = 2000
	counts := make(map[string]int)
	for i := 0; i < rounds; i++ {
		// token-a just used, token-b idle past the cap: weights 1 vs 11.
		now := time.Now()
		p.mu.Lock()
		p.creds[0].lastUsed = now
		p.creds[1].lastUsed = now.Add(-601 * time.Second)
		p.mu.Unlock()

		conn, err := p.Acquire()
		if err != nil {
			t.Fatalf("Acquire() error: %v", err)
		}
		counts[conn.(*fakeConn).secret]++
	}

	if counts["token-b"] <= counts["token-a"] {
		t.Errorf("stale credential should win more trials: stale=%d fresh=%d",
			counts["token-b"], counts["token-a"])
	}
	if counts["token-a"] == 0 {
		t.Error("fresh credential must keep a nonzero selection probability")
	}
}

func TestPool_StatusNeverLeaksSecrets(t *testing.T) {
	secret := "1234567890:AAHdqTcvbXYZ-full-secret-value"
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{secret}, nil)

	st := p.Status()
	id := st.Credentials[0].ID
	if len(id) != 8 {
		t.Errorf("expected 8-char prefix, got %q", id)
	}
	if strings.Contains(id, secret[8:]) {
		t.Error("status must not contain the full secret")
	}
}

func TestPool_CloseAllToleratesFailures(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a", "token-b"}, nil)

	dialer.conns["token-a"].disconnectErr = errors.New("already closed")

	p.CloseAll()

	if dialer.conns["token-a"].disconnectCount() != 1 {
		t.Error("failing session should still be asked to disconnect")
	}
	if dialer.conns["token-b"].disconnectCount() != 1 {
		t.Error("close sweep must continue past individual failures")
	}
}

func TestPool_UpdateHealthConfig(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a"}, nil)

	p.UpdateHealthConfig(1, time.Hour, 10*time.Minute)

	conn, _ := p.Acquire()
	p.ReportFailure(conn)

	if _, err := p.Acquire(); !errors.Is(err, ErrExhausted) {
		t.Errorf("lowered threshold should trip cooldown on first failure, got %v", err)
	}
}

func TestPool_SingleCredentialFullCycle(t *testing.T) {
	dialer := newFakeDialer()
	p := newTestPool(t, dialer, []string{"token-a"}, func(cfg *Config) {
		cfg.Cooldown = 50 * time.Millisecond
	})

	conn, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	for i := 0; i < 3; i++ {
		p.ReportFailure(conn)
	}
	if _, err := p.Acquire(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected exhaustion after threshold, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	again, err := p.Acquire()
	if err != nil {
		t.Fatalf("expected recovery after cooldown, got %v", err)
	}
	if again != conn {
		t.Error("recovered credential should return its original handle")
	}
}

func TestPool_ConcurrentAcquireAndReport(t *testing.T) {
	dialer := newFakeDialer()
	secrets := make([]string, 5)
	for i := range secrets {
		secrets[i] = fmt.Sprintf("token-%d", i)
	}
	p := newTestPool(t, dialer, secrets, func(cfg *Config) {
		cfg.Cooldown = 10 * time.Millisecond
	})

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				conn, err := p.Acquire()
				if errors.Is(err, ErrExhausted) {
					continue
				}
				if err != nil {
					t.Errorf("Acquire() error: %v", err)
					return
				}
				if i%3 == 0 {
					p.ReportFailure(conn)
				}
				_ = p.Status()
			}
		}()
	}
	wg.Wait()
}
