package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.auth_secret", "")
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.rate_per_second", 10)
	v.SetDefault("server.max_body_bytes", 25<<20) // base64 uploads
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("log.json", true)
	v.SetDefault("log.level", "info")

	v.SetDefault("graph.tenant_id", "")
	v.SetDefault("graph.client_id", "")
	v.SetDefault("graph.client_secret", "")
	v.SetDefault("graph.scope", "https://graph.microsoft.com/.default")
	v.SetDefault("graph.token_url", "https://login.microsoftonline.com")
	v.SetDefault("graph.base_url", "https://graph.microsoft.com")
	v.SetDefault("graph.site_url", "")
	v.SetDefault("graph.mail_from", "updates@onwards.network")

	v.SetDefault("twilio.account_sid", "")
	v.SetDefault("twilio.auth_token", "")
	v.SetDefault("twilio.from_number", "")
	v.SetDefault("twilio.whatsapp_number", "")
	v.SetDefault("twilio.base_url", "https://api.twilio.com")

	v.SetDefault("tasks.integration_key", "")
	v.SetDefault("tasks.provider_id", "")
	v.SetDefault("tasks.base_url", "https://secure.appenate.com")

	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.base_url", "https://api.anthropic.com")
	v.SetDefault("assistant.version", "2023-06-01")

	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.jobs_table", "OpsClientJobs")
	v.SetDefault("storage.contacts_table", "OpsMoveManagers")

	v.SetDefault("reminder.enabled", true)
	v.SetDefault("reminder.schedule", "0 7 * * *")
	v.SetDefault("reminder.timezone", "UTC")
}
