package config

import "net"

var _ EnvConfig = (*settings)(nil)

func (s *settings) GetHost() string {
	return s.Host
}

func (s *settings) GetPort() string {
	return s.Port
}

// GetAddr returns the listen address, e.g. ":8080"
func (s *settings) GetAddr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

func (s *settings) GetAppName() string {
	return s.AppName
}

func (s *settings) GetEnv() string {
	return s.Env
}

// IsDev is true only when ENV=DEV is set explicitly.
func (s *settings) IsDev() bool {
	return s.Env == EnvDev
}

func (s *settings) GetLogLevel() string {
	return s.LogLevel
}

// GetStaticDir returns a directory to serve assets from instead of the
// embedded set. Empty means embedded.
func (s *settings) GetStaticDir() string {
	return s.StaticDir
}
