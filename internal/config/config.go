package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Port    int    `yaml:"port" json:"port"`
		DataDir string `yaml:"data_dir" json:"data_dir"`
	} `yaml:"app" json:"app"`

	Source struct {
		BaseURL           string  `yaml:"base_url" json:"base_url"`
		SectionCode       string  `yaml:"section_code" json:"section_code"`
		UserAgent         string  `yaml:"user_agent" json:"user_agent"`
		RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
		Burst             int     `yaml:"burst" json:"burst"`
		HydrateBodies     bool    `yaml:"hydrate_bodies" json:"hydrate_bodies"`
	} `yaml:"source" json:"source"`

	Ingest struct {
		Workers       int  `yaml:"workers" json:"workers"`
		LookbackDays  int  `yaml:"lookback_days" json:"lookback_days"`
		MaxAttempts   int  `yaml:"max_attempts" json:"max_attempts"`
		RetryBaseMs   int  `yaml:"retry_base_ms" json:"retry_base_ms"`
		DailyEnabled  bool `yaml:"daily_enabled" json:"daily_enabled"`
		IntervalHours int  `yaml:"interval_hours" json:"interval_hours"`
	} `yaml:"ingest" json:"ingest"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

// Default returns the built-in config written on first start.
func Default() Config {
	var cfg Config
	cfg.App.Port = 38472
	cfg.App.DataDir = "."
	cfg.Source.BaseURL = "https://www.boe.es/datosabiertos/api/boe/sumario"
	cfg.Source.SectionCode = "2B"
	cfg.Source.UserAgent = "OpoWatch/1.0 (+local)"
	cfg.Source.RequestsPerSecond = 1.0
	cfg.Source.Burst = 2
	cfg.Ingest.Workers = 3
	cfg.Ingest.LookbackDays = 7
	cfg.Ingest.MaxAttempts = 5
	cfg.Ingest.RetryBaseMs = 250
	cfg.Ingest.DailyEnabled = true
	cfg.Ingest.IntervalHours = 24
	return cfg
}
