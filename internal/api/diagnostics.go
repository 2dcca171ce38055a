package api

import (
	"net/http"
	"runtime"
	"time"
)

type DiagnosticsInfo struct {
	HTTPAddr        string `json:"http_addr"`
	DataDir         string `json:"data_dir"`
	DBPath          string `json:"db_path"`
	Backend         string `json:"backend"`
	ChannelSink     bool   `json:"channel_sink"`
	WebhookSink     bool   `json:"webhook_sink"`
	DefaultChannel  string `json:"default_channel,omitempty"`
	LLMModel        string `json:"llm_model,omitempty"`
	KafkaConfigured bool   `json:"kafka_configured"`
	AuthEnabled     bool   `json:"auth_enabled"`
}

type DiagnosticsResponse struct {
	Time          time.Time       `json:"time"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	GoVersion     string          `json:"go_version"`
	LLMConfigured bool            `json:"llm_configured"`
	Info          DiagnosticsInfo `json:"info"`
	EventBus      map[string]any  `json:"eventbus"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	started := s.StartedAt
	if started.IsZero() {
		started = now
	}
	resp := DiagnosticsResponse{
		Time:          now,
		StartedAt:     started,
		UptimeSeconds: int64(now.Sub(started).Seconds()),
		GoVersion:     runtime.Version(),
		LLMConfigured: s.Info.LLMModel != "",
		Info:          s.Info,
		EventBus:      map[string]any{},
	}
	if s.Bus != nil {
		resp.EventBus["subscribers"] = s.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
