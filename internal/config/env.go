package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// CONVOY_PLATFORM_CLIENT_SECRET -> platform.client_secret.
const EnvPrefix = "CONVOY_"

// envKey maps CONVOY_SECTION_FIELD_NAME to section.field_name. Only the first
// underscore after the prefix separates section from field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// applyEnv overlays CONVOY_* environment variables on top of file values.
func (c *Config) applyEnv() error {
	k := koanf.New(".")
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("config: load environment: %w", err)
	}

	strs := map[string]*string{
		"server.host":              &c.Server.Host,
		"database.driver":          &c.Database.Driver,
		"database.host":            &c.Database.Host,
		"database.user":            &c.Database.User,
		"database.database":        &c.Database.Database,
		"database.path":            &c.Database.Path,
		"platform.domain_resolver": &c.Platform.DomainResolver,
		"platform.scheme":          &c.Platform.Scheme,
		"platform.client_id":       &c.Platform.ClientID,
		"platform.skill_id":        &c.Platform.SkillID,
		"analysis.base_url":        &c.Analysis.BaseURL,
		"sweep.schedule":           &c.Sweep.Schedule,
		"log.level":                &c.Log.Level,
		"log.format":               &c.Log.Format,
	}
	for key, dst := range strs {
		if k.Exists(key) {
			*dst = k.String(key)
		}
	}

	secrets := map[string]*Secret{
		"server.webhook_secret":    &c.Server.WebhookSecret,
		"database.password":        &c.Database.Password,
		"platform.client_secret":   &c.Platform.ClientSecret,
		"analysis.api_key":         &c.Analysis.APIKey,
		"notify.slack_bot_token":   &c.Notify.Slack.BotToken,
		"notify.discord_bot_token": &c.Notify.Discord.BotToken,
	}
	for key, dst := range secrets {
		if k.Exists(key) {
			*dst = Secret(k.String(key))
		}
	}

	ints := map[string]*int{
		"server.port":   &c.Server.Port,
		"database.port": &c.Database.Port,
	}
	for key, dst := range ints {
		if k.Exists(key) {
			*dst = k.Int(key)
		}
	}
	return nil
}
