package dbpool

import "time"

// GetMode selects how Acquire behaves when the pool is at max_sessions,
// mirroring godror.PoolGetMode / the underlying OCI session pool modes.
type GetMode string

const (
	// GetModeWait blocks until a session frees up or wait_timeout elapses.
	GetModeWait GetMode = "wait"
	// GetModeNoWait fails immediately if no session is free.
	GetModeNoWait GetMode = "no-wait"
	// GetModeTimedWait blocks up to wait_timeout, same as GetModeWait but
	// named explicitly per §4.1's enumeration.
	GetModeTimedWait GetMode = "timed-wait"
	// GetModeForceGet creates a session beyond max_sessions rather than
	// waiting or failing.
	GetModeForceGet GetMode = "force-get"
)

// Config enumerates the pool tuning knobs from §4.1.
type Config struct {
	MinSessions           int
	MaxSessions           int
	SessionIncrement      int
	PingInterval          time.Duration
	WaitTimeout           time.Duration
	MaxLifetimeSession    time.Duration
	GetMode               GetMode
	Homogeneous           bool // always true; the pool shares one wallet-derived credential
}

// DefaultConfig returns the environment-defaulted pool configuration from §6.
func DefaultConfig() Config {
	return Config{
		MinSessions:        2,
		MaxSessions:        10,
		SessionIncrement:   1,
		PingInterval:       60 * time.Second,
		WaitTimeout:        5 * time.Second,
		MaxLifetimeSession: time.Hour,
		GetMode:            GetModeTimedWait,
		Homogeneous:        true,
	}
}
