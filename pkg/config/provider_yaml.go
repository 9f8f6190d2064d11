package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Serial struct {
			Port                string   `yaml:"port"`
			Baud                int      `yaml:"baud"`
			ConnectRetrySeconds float64  `yaml:"connect_retry_seconds"`
			ReadTimeoutSeconds  float64  `yaml:"read_timeout_seconds"`
			DetectKeywords      []string `yaml:"detect_keywords"`
		} `yaml:"serial"`
		Storage struct {
			Postgres *struct {
				ConnectionString string `yaml:"connection_string"`
			} `yaml:"postgres"`
			SQLite *struct {
				Path string `yaml:"path"`
			} `yaml:"sqlite"`
		} `yaml:"storage"`
		Inference struct {
			URL            string  `yaml:"url"`
			TimeoutSeconds float64 `yaml:"timeout_seconds"`
		} `yaml:"inference"`
		LLM struct {
			URL            string  `yaml:"url"`
			Model          string  `yaml:"model"`
			TimeoutSeconds float64 `yaml:"timeout_seconds"`
		} `yaml:"llm"`
		REST struct {
			ListenAddr string `yaml:"listen_addr"`
			Port       int    `yaml:"port"`
		} `yaml:"rest"`
		Features struct {
			RainPresentThreshold  int     `yaml:"rain_present_threshold"`
			CumulativeRainDivisor float64 `yaml:"cumulative_rain_divisor"`
			WetSeasonStartMonth   int     `yaml:"wet_season_start_month"`
			WetSeasonEndMonth     int     `yaml:"wet_season_end_month"`
			RetentionMinutes      int     `yaml:"retention_minutes"`
		} `yaml:"features"`
		Pipeline struct {
			HighRiskThreshold int `yaml:"high_risk_threshold"`
		} `yaml:"pipeline"`
	}

	err = yaml.Unmarshal(cfgFile, &yamlConfig)
	if err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := &ConfigData{
		Serial: SerialData{
			Port:                yamlConfig.Serial.Port,
			Baud:                yamlConfig.Serial.Baud,
			ConnectRetrySeconds: yamlConfig.Serial.ConnectRetrySeconds,
			ReadTimeoutSeconds:  yamlConfig.Serial.ReadTimeoutSeconds,
			DetectKeywords:      yamlConfig.Serial.DetectKeywords,
		},
		Inference: InferenceData{
			URL:            yamlConfig.Inference.URL,
			TimeoutSeconds: yamlConfig.Inference.TimeoutSeconds,
		},
		LLM: LLMData{
			URL:            yamlConfig.LLM.URL,
			Model:          yamlConfig.LLM.Model,
			TimeoutSeconds: yamlConfig.LLM.TimeoutSeconds,
		},
		REST: RESTData{
			ListenAddr: yamlConfig.REST.ListenAddr,
			Port:       yamlConfig.REST.Port,
		},
		Features: FeaturesData{
			RainPresentThreshold:  yamlConfig.Features.RainPresentThreshold,
			CumulativeRainDivisor: yamlConfig.Features.CumulativeRainDivisor,
			WetSeasonStartMonth:   yamlConfig.Features.WetSeasonStartMonth,
			WetSeasonEndMonth:     yamlConfig.Features.WetSeasonEndMonth,
			RetentionMinutes:      yamlConfig.Features.RetentionMinutes,
		},
		Pipeline: PipelineData{
			HighRiskThreshold: yamlConfig.Pipeline.HighRiskThreshold,
		},
	}

	if yamlConfig.Storage.Postgres != nil {
		config.Storage.Postgres = &PostgresData{
			ConnectionString: yamlConfig.Storage.Postgres.ConnectionString,
		}
	}
	if yamlConfig.Storage.SQLite != nil {
		config.Storage.SQLite = &SQLiteData{
			Path: yamlConfig.Storage.SQLite.Path,
		}
	}

	config.ApplyDefaults()

	return config, nil
}

// IsReadOnly returns true since YAML files are read-only at runtime
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML providers
func (y *YAMLProvider) Close() error {
	return nil
}
