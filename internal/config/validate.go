package config

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"opsbridge.org/internal/errs"
)

// Validate checks process-level settings. Per-API credentials are checked
// lazily by the Require methods so one unconfigured API does not stop the
// others from serving.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errs.Mark(errs.New("server.addr cannot be empty"), errs.ErrConfiguration)
	}
	if c.Server.RateBurst <= 0 || c.Server.RatePerSecond <= 0 {
		return errs.Mark(errs.Newf("server rate limits must be > 0, got burst=%d per_second=%d",
			c.Server.RateBurst, c.Server.RatePerSecond), errs.ErrConfiguration)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errs.Mark(errs.Newf("server.max_body_bytes must be > 0, got %d", c.Server.MaxBodyBytes), errs.ErrConfiguration)
	}
	if _, err := time.LoadLocation(c.Reminder.Timezone); err != nil {
		return errs.Mark(errs.Wrapf(err, "reminder.timezone %q", c.Reminder.Timezone), errs.ErrConfiguration)
	}
	return nil
}

// RequireCredentials checks the values needed for a token exchange.
func (g Graph) RequireCredentials() error {
	return requireKeys(map[string]string{
		"graph.tenant_id":     g.TenantID,
		"graph.client_id":     g.ClientID,
		"graph.client_secret": g.ClientSecret,
	})
}

// RequireSite additionally checks the document site URL.
func (g Graph) RequireSite() error {
	return requireKeys(map[string]string{
		"graph.tenant_id":     g.TenantID,
		"graph.client_id":     g.ClientID,
		"graph.client_secret": g.ClientSecret,
		"graph.site_url":      g.SiteURL,
	})
}

// RequireMailbox additionally checks the sending mailbox.
func (g Graph) RequireMailbox() error {
	return requireKeys(map[string]string{
		"graph.tenant_id":     g.TenantID,
		"graph.client_id":     g.ClientID,
		"graph.client_secret": g.ClientSecret,
		"graph.mail_from":     g.MailFrom,
	})
}

func (t Twilio) Require() error {
	return requireKeys(map[string]string{
		"twilio.account_sid": t.AccountSID,
		"twilio.auth_token":  t.AuthToken,
		"twilio.from_number": t.FromNumber,
	})
}

func (t Tasks) Require() error {
	if err := requireKeys(map[string]string{
		"tasks.integration_key": t.IntegrationKey,
		"tasks.provider_id":     t.ProviderID,
	}); err != nil {
		return err
	}
	if _, err := strconv.Atoi(t.ProviderID); err != nil {
		return errs.Mark(errs.Newf("tasks.provider_id must be an integer, got %q", t.ProviderID), errs.ErrConfiguration)
	}
	return nil
}

func (a Assistant) Require() error {
	return requireKeys(map[string]string{"assistant.api_key": a.APIKey})
}

func (s Storage) Require() error {
	return requireKeys(map[string]string{"storage.dsn": s.DSN})
}

// Configured reports whether any Graph credential is set.
func (g Graph) Configured() bool {
	return anySet(g.TenantID, g.ClientID, g.ClientSecret)
}

// Configured reports whether any Twilio credential is set.
func (t Twilio) Configured() bool { return anySet(t.AccountSID, t.AuthToken) }

// Configured reports whether any task tracker credential is set.
func (t Tasks) Configured() bool { return anySet(t.IntegrationKey, t.ProviderID) }

// Configured reports whether the assistant API key is set.
func (a Assistant) Configured() bool { return anySet(a.APIKey) }

func anySet(vals ...string) bool {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func requireKeys(values map[string]string) error {
	var missing []string
	for key, val := range values {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errs.Configuration(missing...)
}

// Location resolves the reminder timezone; Validate has already checked it.
func (r Reminder) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
