package configs

import (
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		Env      string
		LogLevel string
	}
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}
	Engine struct {
		ExtensionWindowSeconds int
		ExtensionSeconds       int
		PaymentAuthThreshold   string
		ExternalCallTimeoutMs  int
		EventBuffer            int
		// RiskServiceURL enables the fraud screen. Empty means every bid
		// is approved, which is only acceptable behind a trusted gateway.
		RiskServiceURL string
	}
	WebSocket struct {
		RateLimitPerSecond float64
		RateLimitBurst     int
	}
	Kafka struct {
		Enabled bool
		Brokers []string
		Topic   string
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file
	if err := godotenv.Load("./configs/.env"); err != nil {
		log.Info("No .env file found")
	}

	viper.SetConfigName("config")    // Name of the config file (without extension)
	viper.SetConfigType("yaml")      // Config file type
	viper.AddConfigPath("./configs") // Path to look for the config file
	viper.AutomaticEnv()             // Automatically map environment variables

	// Allow dots in environment variables to map to nested keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if ok := isConfigNotFound(err, &notFound); !ok {
			return nil, err
		}
		log.Info("No config file found, using defaults and environment")
	}

	// Manually substitute environment variables in the config
	substituteEnvVarsInConfig()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.loglevel", "debug")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("engine.extensionwindowseconds", 120)
	viper.SetDefault("engine.extensionseconds", 120)
	viper.SetDefault("engine.paymentauththreshold", "0")
	viper.SetDefault("engine.externalcalltimeoutms", 2000)
	viper.SetDefault("engine.eventbuffer", 64)
	viper.SetDefault("engine.riskserviceurl", "")
	viper.SetDefault("websocket.ratelimitpersecond", 1)
	viper.SetDefault("websocket.ratelimitburst", 3)
	viper.SetDefault("kafka.topic", "auction-events")
}

func isConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// ExtensionWindow returns the configured anti-sniping window.
func (c *Config) ExtensionWindow() time.Duration {
	return time.Duration(c.Engine.ExtensionWindowSeconds) * time.Second
}

// Extension returns the configured anti-sniping extension amount.
func (c *Config) Extension() time.Duration {
	return time.Duration(c.Engine.ExtensionSeconds) * time.Second
}

// ExternalCallTimeout returns the bound for fraud and payment calls.
func (c *Config) ExternalCallTimeout() time.Duration {
	return time.Duration(c.Engine.ExternalCallTimeoutMs) * time.Millisecond
}

// Helper function to manually replace environment variables in config file values
func substituteEnvVarsInConfig() {
	for _, key := range viper.AllKeys() {
		value := viper.GetString(key)

		// Check if the value contains environment variable syntax (e.g., ${PORT})
		if strings.Contains(value, "${") {
			replacedValue := os.Expand(value, func(name string) string {
				return os.Getenv(name)
			})
			viper.Set(key, replacedValue)
		}
	}
}
