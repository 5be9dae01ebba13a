package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string
	Environment   string
	AdminToken    string
	UploadDir     string
	Database      DatabaseConfig
	Migration     MigrationConfig
	Banking       BankingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   string
}

type MigrationConfig struct {
	Dir string
}

// BankingConfig holds the open-banking API credentials. AppID doubles as the
// JWT key id; PrivateKeyPath points at the RS256 signing key.
type BankingConfig struct {
	AppID          string
	PrivateKeyPath string
	BaseURL        string
	RedirectURL    string
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	viper.SetDefault("BANKING_BASE_URL", "https://api.enablebanking.com")
	viper.SetDefault("UPLOAD_DIR", "uploads")

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		AdminToken:    viper.GetString("ADMIN_TOKEN"),
		UploadDir:     viper.GetString("UPLOAD_DIR"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		Banking: BankingConfig{
			AppID:          viper.GetString("BANKING_APP_ID"),
			PrivateKeyPath: viper.GetString("BANKING_PRIVATE_KEY_PATH"),
			BaseURL:        viper.GetString("BANKING_BASE_URL"),
			RedirectURL:    viper.GetString("BANKING_REDIRECT_URL"),
		},
	}

	return config, nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}
