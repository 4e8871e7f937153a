package api

import (
	"net/http"
	"time"

	"wastetrack/internal/buildinfo"
)

// DebugJSON reports build info and the effective, non-secret configuration.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":            s.Cfg.Port,
			"coverageRadiusM": s.Tracker.Radius(),
			"saveRetries":     s.Cfg.Coverage.SaveRetries,
			"rateRps":         s.Cfg.Rate.RPS,
			"rateBurst":       s.Cfg.Rate.Burst,
			"streamHeartbeat": s.Cfg.Stream.Heartbeat.String(),
			"streamSnapshot":  s.Cfg.Stream.SnapshotInterval.String(),
			"mqttTopic":       s.Cfg.MQTT.Topic,
			"hasDatabaseUrl":  s.Cfg.DatabaseURL != "",
			"hasRedisUrl":     s.Cfg.RedisURL != "",
			"hasAmqpUrl":      s.Cfg.AMQPURL != "",
			"hasMqttBroker":   s.Cfg.MQTT.Broker != "",
			"hasWebhookUrl":   s.Cfg.Webhook.URL != "",
		},
	})
}
