package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 所有狀態皆在內存中，重啟即丟失，因此配置只涵蓋監聽與日誌等
// 運行參數，不涉及任何存儲。
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Relay struct {
		// 動作廣播後的狀態重同步延遲
		StateResyncDelay time.Duration `yaml:"state_resync_delay"`
	} `yaml:"relay"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 預設配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 3000
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Relay.StateResyncDelay = DefaultStateResyncDelay
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 載入配置文件
//
// 文件不存在時使用預設配置；文件存在但格式錯誤時回傳錯誤。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("讀取配置文件失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失敗: %w", err)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("無效的端口: %d", cfg.Server.Port)
	}
	if cfg.Relay.StateResyncDelay <= 0 {
		cfg.Relay.StateResyncDelay = DefaultStateResyncDelay
	}

	return cfg, nil
}
