package config

// ServerSettings holds the HTTP listener configuration.
type ServerSettings struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// AuthSettings is the single operator credential for the query endpoints.
// PasswordHash is a bcrypt hash; the plaintext password is never configured.
type AuthSettings struct {
	Username     string `mapstructure:"username" validate:"required"`
	PasswordHash string `mapstructure:"password_hash" validate:"required"`
}
