// Package config provides configuration loading for floodsentry.
package config

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Serial    SerialData    `json:"serial"`
	Storage   StorageData   `json:"storage,omitempty"`
	Inference InferenceData `json:"inference"`
	LLM       LLMData       `json:"llm"`
	REST      RESTData      `json:"rest,omitempty"`
	Features  FeaturesData  `json:"features"`
	Pipeline  PipelineData  `json:"pipeline"`
}

// SerialData holds configuration for the sensor serial transport
type SerialData struct {
	// Port is the serial device path. Empty means auto-detect by scoring
	// candidate ports against DetectKeywords.
	Port                string   `json:"port,omitempty"`
	Baud                int      `json:"baud,omitempty"`
	ConnectRetrySeconds float64  `json:"connect_retry_seconds,omitempty"`
	ReadTimeoutSeconds  float64  `json:"read_timeout_seconds,omitempty"`
	DetectKeywords      []string `json:"detect_keywords,omitempty"`
}

// StorageData holds the configuration for the storage backends
type StorageData struct {
	Postgres *PostgresData `json:"postgres,omitempty"`
	SQLite   *SQLiteData   `json:"sqlite,omitempty"`
}

type PostgresData struct {
	ConnectionString string `json:"connection_string"`
}

type SQLiteData struct {
	Path string `json:"path"`
}

// InferenceData holds configuration for the model-serving sidecar
type InferenceData struct {
	URL            string  `json:"url"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// LLMData holds configuration for the explanation backend (Ollama or any
// OpenAI-compatible endpoint)
type LLMData struct {
	URL            string  `json:"url,omitempty"`
	Model          string  `json:"model,omitempty"`
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// RESTData holds the REST server configuration
type RESTData struct {
	ListenAddr string `json:"listen_addr,omitempty"`
	Port       int    `json:"port,omitempty"`
}

// FeaturesData holds the tuning knobs for the online feature window. The
// cumulative-rain divisor and rain-present threshold are deployment-specific
// calibration values, not derived constants.
type FeaturesData struct {
	RainPresentThreshold  int     `json:"rain_present_threshold,omitempty"`
	CumulativeRainDivisor float64 `json:"cumulative_rain_divisor,omitempty"`
	WetSeasonStartMonth   int     `json:"wet_season_start_month,omitempty"`
	WetSeasonEndMonth     int     `json:"wet_season_end_month,omitempty"`
	RetentionMinutes      int     `json:"retention_minutes,omitempty"`
}

// PipelineData holds the decision pipeline thresholds
type PipelineData struct {
	HighRiskThreshold int `json:"high_risk_threshold,omitempty"`
}

// ApplyDefaults fills in zero-valued fields with production defaults.
func (c *ConfigData) ApplyDefaults() {
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 9600
	}
	if c.Serial.ConnectRetrySeconds == 0 {
		c.Serial.ConnectRetrySeconds = 2
	}
	if c.Serial.ReadTimeoutSeconds == 0 {
		c.Serial.ReadTimeoutSeconds = 1
	}
	if len(c.Serial.DetectKeywords) == 0 {
		c.Serial.DetectKeywords = []string{
			"arduino", "usb serial", "wch", "ch340", "cp210", "ftdi", "silicon labs",
		}
	}
	if c.Inference.TimeoutSeconds == 0 {
		c.Inference.TimeoutSeconds = 10
	}
	if c.LLM.URL == "" {
		c.LLM.URL = "http://localhost:11434/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.REST.ListenAddr == "" {
		c.REST.ListenAddr = "0.0.0.0"
	}
	if c.REST.Port == 0 {
		c.REST.Port = 8080
	}
	if c.Features.RainPresentThreshold == 0 {
		c.Features.RainPresentThreshold = 500
	}
	if c.Features.CumulativeRainDivisor == 0 {
		c.Features.CumulativeRainDivisor = 100
	}
	if c.Features.WetSeasonStartMonth == 0 {
		c.Features.WetSeasonStartMonth = 6
	}
	if c.Features.WetSeasonEndMonth == 0 {
		c.Features.WetSeasonEndMonth = 9
	}
	if c.Features.RetentionMinutes == 0 {
		c.Features.RetentionMinutes = 35
	}
	if c.Pipeline.HighRiskThreshold == 0 {
		c.Pipeline.HighRiskThreshold = 2
	}
}
