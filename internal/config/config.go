package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/dkeye/whep/internal/domain"
)

type ICEServer struct {
	URL        string `mapstructure:"url"`
	Username   string `mapstructure:"username"`
	Credential string `mapstructure:"credential"`
}

type Config struct {
	Endpoint    string `mapstructure:"endpoint"`
	BearerToken string `mapstructure:"bearer_token"`
	BasicUser   string `mapstructure:"basic_user"`
	BasicPass   string `mapstructure:"basic_pass"`

	// ICEServers, when set, skip the endpoint's OPTIONS discovery.
	ICEServers []ICEServer `mapstructure:"ice_servers"`

	Mode        string `mapstructure:"mode"`
	ConsoleAddr string `mapstructure:"console_addr"`
	LogLevel    string `mapstructure:"log_level"`

	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	FlowInterval     time.Duration `mapstructure:"flow_interval"`
	PlaybackInterval time.Duration `mapstructure:"playback_interval"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("console_addr", "127.0.0.1:8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("retry_delay", "2s")
	v.SetDefault("flow_interval", "5s")
	v.SetDefault("playback_interval", "5s")

	v.SetEnvPrefix("whep")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// DomainICEServers converts configured entries to the domain type.
func (c *Config) DomainICEServers() []domain.ICEServer {
	out := make([]domain.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		out = append(out, domain.ICEServer{
			URL: s.URL, Username: s.Username, Credential: s.Credential,
		})
	}
	return out
}
