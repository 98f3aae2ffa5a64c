package models

// MConfig Structure
type MConfig struct {
	Name          string           `yaml:"name"`
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	LogLevel      string           `yaml:"log_level"`
	ChannelPrefix string           `yaml:"channel_prefix"`
	Storage       MStorageConfig   `yaml:"storage"`
	Upstream      MUpstreamConfig  `yaml:"upstream"`
	Alerts        MAlertsConfig    `yaml:"alerts"`
	Account       MAccountConfig   `yaml:"account"`
	Publisher     MPublisherConfig `yaml:"publisher"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MUpstreamConfig struct {
	URL                string `yaml:"url"`
	HeartbeatToken     string `yaml:"heartbeat_token"`
	MessageType        string `yaml:"message_type"`
	MinFields          int    `yaml:"min_fields"`
	CloseGraceMs       int    `yaml:"close_grace_ms"`
	ReconcileSeconds   int    `yaml:"reconcile_seconds"`
	ReconnectRetries   int    `yaml:"reconnect_retries"`
	ReconnectBaseDelay int    `yaml:"reconnect_base_delay_seconds"`
	MarketMIC          string `yaml:"market_mic"`
	IdleRecheckSeconds int    `yaml:"idle_recheck_seconds"`
}

type MAlertsConfig struct {
	CooldownMinutes int `yaml:"cooldown_minutes"`
}

type MPublisherConfig struct {
	Type    string   `yaml:"type"` // "kafka" or "log"
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MAccountConfig struct {
	BaseURL        string `yaml:"base_url"`
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
}
