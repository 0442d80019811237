package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Server        ServerSettings    `mapstructure:"server"`
	Database      DbSettings        `mapstructure:"database"`
	CRM           CRMSettings       `mapstructure:"crm"`
	Broker        BrokerSettings    `mapstructure:"broker"`
	Scheduler     SchedulerSettings `mapstructure:"scheduler"`
	Auth          AuthSettings      `mapstructure:"auth"`
	Observability Observability     `mapstructure:"observability"`
	LogLevel      string            `mapstructure:"log_level"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml") // Set the config type to YAML
	viper.SetConfigName("statusbridge")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "statusbridge."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error merging dev config: %s\n", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("Failed to load from env: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("STATUSBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like STATUSBRIDGE_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("server.addr")
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.dbname")
	viper.BindEnv("database.collection")
	viper.BindEnv("crm.accounts_url")
	viper.BindEnv("crm.api_base_url")
	viper.BindEnv("crm.refresh_token")
	viper.BindEnv("crm.client_id")
	viper.BindEnv("crm.client_secret")
	viper.BindEnv("crm.module")
	viper.BindEnv("crm.token_margin")
	viper.BindEnv("crm.fetch_limit")
	viper.BindEnv("broker.type")
	viper.BindEnv("broker.url")
	viper.BindEnv("broker.exchange")
	viper.BindEnv("broker.topic")
	viper.BindEnv("broker.projectID")
	viper.BindEnv("broker.pool_size")
	viper.BindEnv("scheduler.sync_interval")
	viper.BindEnv("scheduler.error_cooldown")
	viper.BindEnv("scheduler.worker_pool_size")
	viper.BindEnv("scheduler.stop_timeout")
	viper.BindEnv("scheduler.auto_start")
	viper.BindEnv("auth.username")
	viper.BindEnv("auth.password_hash")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("observability.metrics_url")
	viper.BindEnv("log_level")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":9000")
	viper.SetDefault("broker.type", "noop")
	viper.SetDefault("crm.module", "Deliveries")
	viper.SetDefault("crm.token_margin", "5m")
	viper.SetDefault("crm.fetch_limit", 1000)
	viper.SetDefault("scheduler.sync_interval", "1h")
	viper.SetDefault("scheduler.error_cooldown", "1m")
	viper.SetDefault("scheduler.worker_pool_size", 10)
	viper.SetDefault("scheduler.stop_timeout", "5s")
	viper.SetDefault("scheduler.auto_start", true)
	viper.SetDefault("observability.service_name", "statusbridge")
	viper.SetDefault("log_level", "info")
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
