package main

import (
	"encoding/json"

	"inventariagent/internal/threshold"
)

func defaultConfigTemplate() Config {
	return Config{
		DeviceID:          "",
		ConsoleURL:        "",
		PolicyFile:        "config/appblock.json",
		DiskPath:          "",
		LogLevel:          "info",
		LogRetentionHours: 72,
		Intervals:         IntervalsConfig{MetricsSeconds: 30, ProcessScanMillis: 1000, StoreTimeoutMillis: 10000},
		Thresholds:        threshold.Defaults(),
		Cooldowns:         CooldownsConfig{NewIncidentMins: 120, RepeatUpdateMins: 60, NotifyMins: 15},
		Enforcement: EnforcementConfig{
			Enabled:              true,
			Workers:              4,
			QueueSize:            64,
			GraceMillis:          2000,
			KillWaitMillis:       3000,
			CommandTimeoutMillis: 5000,
		},
		Store: StoreConfig{Backend: "memory", RedisURL: "", Prefix: "inv", PageSize: 200},
		Notifications: NotificationsConfig{
			MailRelay: MailRelayConfig{Enabled: false, Endpoint: "/api/sendMail", Recipients: []string{}, TimeoutSeconds: 10},
			SMTP:      SMTPConfig{Enabled: false, Recipients: []string{}},
			Telegram:  TelegramConfig{Enabled: false},
		},
		MetricsServer: MetricsServerConfig{Enabled: false, Listen: "127.0.0.1:9464"},
	}
}

func fillMissingConfigFields(configMap map[string]interface{}) bool {
	defaults := defaultConfigTemplate()
	defaultBytes, err := json.Marshal(defaults)
	if err != nil {
		return false
	}
	var defaultMap map[string]interface{}
	if err := json.Unmarshal(defaultBytes, &defaultMap); err != nil {
		return false
	}
	return fillMissingMap(configMap, defaultMap)
}

func fillMissingMap(configMap, defaultMap map[string]interface{}) bool {
	changed := false
	for key, defaultValue := range defaultMap {
		currentValue, exists := configMap[key]
		if !exists || currentValue == nil {
			configMap[key] = defaultValue
			changed = true
			continue
		}

		currentMap, currentIsMap := currentValue.(map[string]interface{})
		defaultSubMap, defaultIsMap := defaultValue.(map[string]interface{})
		if currentIsMap && defaultIsMap {
			if fillMissingMap(currentMap, defaultSubMap) {
				changed = true
			}
		}
	}
	return changed
}
