package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	HTTPPort     int           `mapstructure:"http_port"`
	ServerURL    string        `mapstructure:"server_url"`
	Token        string        `mapstructure:"token"`
	DisplayName  string        `mapstructure:"display_name"`
	RoomID       string        `mapstructure:"room_id"`
	Role         string        `mapstructure:"role"`
	CameraDevice string        `mapstructure:"camera_device"`
	MicDevice    string        `mapstructure:"microphone_device"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
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
	v.SetDefault("http_port", 8080)
	v.SetDefault("server_url", "ws://localhost:4443/ws")
	v.SetDefault("role", "attendee")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("dial_timeout", "10s")

	// The token is a secret; it comes from MEET_TOKEN, never the yaml.
	v.SetEnvPrefix("MEET")
	v.AutomaticEnv()
	_ = v.BindEnv("token")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | API: %d | Server: %s\n", cfg.Mode, cfg.HTTPPort, cfg.ServerURL)
	return &cfg, nil
}
