package config

import (
	"fmt"

	"github.com/grovetools/appshell/version"
	"github.com/mitchellh/mapstructure"
)

// Config is the appshell configuration file.
type Config struct {
	UI     UIConfig     `yaml:"ui,omitempty" toml:"ui,omitempty" jsonschema:"description=Renderer boundary settings"`
	Data   DataConfig   `yaml:"data,omitempty" toml:"data,omitempty" jsonschema:"description=Data process settings"`
	Update UpdateConfig `yaml:"update,omitempty" toml:"update,omitempty" jsonschema:"description=Application update settings"`

	// Extensions captures all other top-level keys (for example "logging").
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

// UIConfig configures where the coordinator serves renderers.
type UIConfig struct {
	// Listen is "unix" for the runtime socket or a host:port TCP address.
	Listen string `yaml:"listen,omitempty" toml:"listen,omitempty" jsonschema:"description=unix or host:port"`
}

// DataConfig configures the data process.
type DataConfig struct {
	Debug  bool     `yaml:"debug,omitempty" toml:"debug,omitempty" jsonschema:"description=Run the data process with verbose logging"`
	Ignore []string `yaml:"ignore,omitempty" toml:"ignore,omitempty" jsonschema:"description=Patterns excluded from the product listing"`
	Watch  *bool    `yaml:"watch,omitempty" toml:"watch,omitempty" jsonschema:"description=Re-list products when the project directory changes"`
}

// UpdateConfig configures the update manager.
type UpdateConfig struct {
	Enabled       *bool    `yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	BaseURL       string   `yaml:"base_url,omitempty" toml:"base_url,omitempty" jsonschema:"description=Update feed base URL"`
	ReleasesURL   string   `yaml:"releases_url,omitempty" toml:"releases_url,omitempty"`
	Channels      []string `yaml:"channels,omitempty" toml:"channels,omitempty"`
	CheckSchedule string   `yaml:"check_schedule,omitempty" toml:"check_schedule,omitempty" jsonschema:"description=Cron spec for periodic update checks"`
}

// DefaultChannels lists the update channels in order of stability.
var DefaultChannels = version.Channels

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.UI.Listen == "" {
		c.UI.Listen = "unix"
	}
	if c.Data.Watch == nil {
		watch := true
		c.Data.Watch = &watch
	}
	if c.Update.Enabled == nil {
		enabled := true
		c.Update.Enabled = &enabled
	}
	if len(c.Update.Channels) == 0 {
		c.Update.Channels = append([]string(nil), DefaultChannels...)
	}
	if c.Update.CheckSchedule == "" {
		c.Update.CheckSchedule = "@every 4h"
	}
}

// WatchEnabled reports whether the project directory watcher should run.
func (c *Config) WatchEnabled() bool {
	return c.Data.Watch == nil || *c.Data.Watch
}

// UpdatesEnabled reports whether update checks are supported.
func (c *Config) UpdatesEnabled() bool {
	return c.Update.Enabled == nil || *c.Update.Enabled
}

// UnmarshalExtension decodes an extension section into target.
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	if c == nil || c.Extensions == nil {
		return nil
	}

	extensionConfig, ok := c.Extensions[key]
	if !ok {
		return nil
	}

	decoderConfig := &mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("failed to create decoder for extension '%s': %w", key, err)
	}

	return decoder.Decode(extensionConfig)
}
