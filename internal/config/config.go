package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type MediaConstraints struct {
	VideoWidth     int `mapstructure:"video_width"`
	VideoHeight    int `mapstructure:"video_height"`
	VideoFrameRate int `mapstructure:"video_frame_rate"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	RelayURL   string        `mapstructure:"relay_url"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	ICEServers []ICEServer      `mapstructure:"ice_servers"`
	Media      MediaConstraints `mapstructure:"media"`
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
	v.SetDefault("port", 8080)
	v.SetDefault("relay_url", "ws://localhost:8080/api/ws/call")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("media.video_width", 1280)
	v.SetDefault("media.video_height", 720)
	v.SetDefault("media.video_frame_rate", 30)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
		}
	}

	// TURN credentials come from the environment so they stay out of
	// checked-in config files. Without TURN, calls may fail across
	// NAT/firewalls.
	turnURL := os.Getenv("PAWCALL_TURN_URL")
	if turnURL != "" {
		cfg.ICEServers = append(cfg.ICEServers, ICEServer{
			URLs:       []string{turnURL},
			Username:   os.Getenv("PAWCALL_TURN_USERNAME"),
			Credential: os.Getenv("PAWCALL_TURN_CREDENTIAL"),
		})
	}

	return &cfg, nil
}
