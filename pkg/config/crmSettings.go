package config

import "time"

// CRMSettings holds the credentials and endpoints for the external
// reconciliation system. TokenMargin is subtracted from the provider TTL so
// a 1-hour token is refreshed proactively rather than used until expiry.
type CRMSettings struct {
	AccountsURL  string        `mapstructure:"accounts_url" validate:"required,url"`
	APIBaseURL   string        `mapstructure:"api_base_url" validate:"required,url"`
	RefreshToken string        `mapstructure:"refresh_token" validate:"required"`
	ClientID     string        `mapstructure:"client_id" validate:"required"`
	ClientSecret string        `mapstructure:"client_secret" validate:"required"`
	Module       string        `mapstructure:"module" validate:"required"`
	TokenMargin  time.Duration `mapstructure:"token_margin"`
	FetchLimit   int           `mapstructure:"fetch_limit" validate:"gt=0"`
}
