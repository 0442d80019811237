package config

// DbSettings holds configuration for the event-store backend.
type DbSettings struct {
	Type       string `mapstructure:"type" validate:"required,oneof=postgres mongo spanner"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres"`
	URI        string `mapstructure:"uri"`
	DBName     string `mapstructure:"dbname"`
	Collection string `mapstructure:"collection"`
}
