package config

type StorageConfig interface {
	GetDatabaseURL() string
	GetDBMaxConns() int32
	GetDBMinConns() int32
	UsePostgres() bool
}

var _ StorageConfig = (*settings)(nil)

func (s *settings) GetDatabaseURL() string {
	return s.DatabaseURL
}

func (s *settings) GetDBMaxConns() int32 {
	return s.DBMaxConns
}

func (s *settings) GetDBMinConns() int32 {
	return s.DBMinConns
}

// UsePostgres selects the PostgreSQL state and session stores.
func (s *settings) UsePostgres() bool {
	return s.DatabaseURL != ""
}
