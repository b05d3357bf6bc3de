package config

import "time"

type SecurityConfig interface {
	GetStateTTL() time.Duration
	GetStateCapacity() int
	GetStateSweepInterval() time.Duration
	GetSessionTTL() time.Duration
	GetSessionSecret() []byte
	SessionSecretGenerated() bool
}

var _ SecurityConfig = (*settings)(nil)

func (s *settings) GetStateTTL() time.Duration {
	return s.StateTTL
}

func (s *settings) GetStateCapacity() int {
	return s.StateCapacity
}

// GetStateSweepInterval of zero disables the background sweep.
func (s *settings) GetStateSweepInterval() time.Duration {
	return s.StateSweepInterval
}

func (s *settings) GetSessionTTL() time.Duration {
	return s.SessionTTL
}

func (s *settings) GetSessionSecret() []byte {
	return []byte(s.SessionSecret)
}

// SessionSecretGenerated is true when SESSION_SECRET was unset and a random
// per-process secret is in use. Sessions will not survive a restart.
func (s *settings) SessionSecretGenerated() bool {
	return s.generatedSessionSecret
}
