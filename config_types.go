package main

import "inventariagent/internal/threshold"

type Config struct {
	DeviceID          string              `json:"device_id" validate:"required"`
	ConsoleURL        string              `json:"console_url" validate:"omitempty,startswith=http"`
	PolicyFile        string              `json:"policy_file"`
	DiskPath          string              `json:"disk_path"`
	LogLevel          string              `json:"log_level" validate:"oneof=debug info warn error"`
	LogRetentionHours int                 `json:"log_retention_hours" validate:"gte=0"`
	Intervals         IntervalsConfig     `json:"intervals"`
	Thresholds        threshold.Set       `json:"thresholds"`
	Cooldowns         CooldownsConfig     `json:"cooldowns"`
	Enforcement       EnforcementConfig   `json:"enforcement"`
	Store             StoreConfig         `json:"store"`
	Notifications     NotificationsConfig `json:"notifications"`
	MetricsServer     MetricsServerConfig `json:"metrics_server"`
}

type IntervalsConfig struct {
	MetricsSeconds     int `json:"metrics_seconds" validate:"gte=1"`
	ProcessScanMillis  int `json:"process_scan_millis" validate:"gte=50"`
	StoreTimeoutMillis int `json:"store_timeout_millis" validate:"gte=100"`
}

type CooldownsConfig struct {
	NewIncidentMins  int `json:"new_incident_minutes" validate:"gte=0"`
	RepeatUpdateMins int `json:"repeat_update_minutes" validate:"gte=1"`
	NotifyMins       int `json:"notify_minutes" validate:"gte=1"`
}

type EnforcementConfig struct {
	Enabled              bool `json:"enabled"`
	Workers              int  `json:"workers" validate:"gte=1,lte=64"`
	QueueSize            int  `json:"queue_size" validate:"gte=0"`
	GraceMillis          int  `json:"grace_millis" validate:"gte=0"`
	KillWaitMillis       int  `json:"kill_wait_millis" validate:"gte=0"`
	CommandTimeoutMillis int  `json:"command_timeout_millis" validate:"gte=100"`
}

type StoreConfig struct {
	Backend  string `json:"backend" validate:"oneof=memory redis"`
	RedisURL string `json:"redis_url" validate:"required_if=Backend redis"`
	Prefix   string `json:"prefix"`
	PageSize int64  `json:"page_size" validate:"gte=1"`
}

type NotificationsConfig struct {
	MailRelay MailRelayConfig `json:"mail_relay"`
	SMTP      SMTPConfig      `json:"smtp"`
	Telegram  TelegramConfig  `json:"telegram"`
}

type MailRelayConfig struct {
	Enabled        bool     `json:"enabled"`
	BaseURL        string   `json:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	Endpoint       string   `json:"endpoint"`
	APIKey         string   `json:"api_key"`
	Recipients     []string `json:"recipients" validate:"dive,email"`
	TimeoutSeconds int      `json:"timeout_seconds" validate:"gte=1"`
}

type SMTPConfig struct {
	Enabled    bool     `json:"enabled"`
	Addr       string   `json:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
	From       string   `json:"from" validate:"required_if=Enabled true,omitempty,email"`
	Username   string   `json:"username"`
	Password   string   `json:"password"`
	Recipients []string `json:"recipients" validate:"dive,email"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token" validate:"required_if=Enabled true"`
	ChatID   int64  `json:"chat_id" validate:"required_if=Enabled true"`
}

type MetricsServerConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen" validate:"required_if=Enabled true"`
}
