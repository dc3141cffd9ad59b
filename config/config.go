package config

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/pkg/paths"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// configNames lists the recognized configuration file names in search order.
var configNames = []string{
	"appshell.yml",
	"appshell.yaml",
	"appshell.toml",
}

// knownKeys are the top-level keys decoded into typed fields. Everything
// else lands in Extensions.
var knownKeys = map[string]bool{
	"ui":     true,
	"data":   true,
	"update": true,
}

// Format identifies the syntax of a configuration document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks a Format from a file extension.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Load reads and parses a configuration file, then merges its sibling
// override file (appshell.override.yml, .yaml or .toml) when one exists.
func Load(path string) (*Config, error) {
	return LoadWithLogger(path, logrus.NewEntry(logrus.StandardLogger()))
}

// LoadWithLogger is Load with an explicit logger.
func LoadWithLogger(path string, logger *logrus.Entry) (*Config, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	logger.WithField("path", path).Debug("Loading configuration")

	dir := filepath.Dir(path)
	for _, name := range []string{"appshell.override.yml", "appshell.override.yaml", "appshell.override.toml"} {
		overridePath := filepath.Join(dir, name)
		if _, err := os.Stat(overridePath); err != nil {
			continue
		}
		override, err := readDocument(overridePath)
		if err != nil {
			logger.WithError(err).WithField("path", overridePath).Warn("Failed to load override file, skipping")
			continue
		}
		logger.WithField("path", overridePath).Debug("Merging override configuration")
		doc = mergeDocuments(doc, override)
	}

	return fromDocument(doc)
}

// LoadDefault loads the configuration from the user config directory.
// A missing file is not an error: defaults are returned.
func LoadDefault() (*Config, error) {
	path, err := FindConfigFile(paths.ConfigDir())
	if err != nil {
		if errors.Is(err, errors.ErrCodeConfigNotFound) {
			return Default(), nil
		}
		return nil, err
	}
	return Load(path)
}

// LoadFromBytes parses configuration from a byte array.
func LoadFromBytes(data []byte, format Format) (*Config, error) {
	doc, err := parseDocument(data, format)
	if err != nil {
		return nil, err
	}
	return fromDocument(doc)
}

// FindConfigFile returns the first recognized configuration file in dir.
func FindConfigFile(dir string) (string, error) {
	if dir == "" {
		return "", errors.ConfigNotFound("appshell.yml")
	}
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errors.ConfigNotFound(filepath.Join(dir, configNames[0]))
}

func readDocument(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}
	doc, err := parseDocument(data, FormatFor(path))
	if err != nil {
		if appErr, ok := errors.As(err); ok {
			appErr.WithDetail("path", path)
		}
		return nil, err
	}
	return doc, nil
}

func parseDocument(data []byte, format Format) (map[string]interface{}, error) {
	expanded := []byte(expandEnvVars(string(data)))
	doc := make(map[string]interface{})

	if len(bytes.TrimSpace(expanded)) == 0 {
		return doc, nil
	}

	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(expanded, &doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
	default:
		if err := yaml.Unmarshal(expanded, &doc); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
	}
	if doc == nil {
		doc = make(map[string]interface{})
	}
	return doc, nil
}

// fromDocument validates a raw document and decodes it into a Config.
func fromDocument(doc map[string]interface{}) (*Config, error) {
	v, err := schemaValidator()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}
	if err := v.Validate(doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create decoder")
	}

	typed := make(map[string]interface{})
	for key, value := range doc {
		if knownKeys[key] {
			typed[key] = value
			continue
		}
		if cfg.Extensions == nil {
			cfg.Extensions = make(map[string]interface{})
		}
		cfg.Extensions[key] = value
	}
	// Decoding into the struct does not touch Extensions: it has no matching key.
	if err := decoder.Decode(typed); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to decode configuration")
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// expandEnvVars expands ${VAR} and ${VAR:-default} references. Expansion
// happens on the raw text before parsing, so a substituted value must
// already be a valid scalar where it lands: quote references whose value
// may start with a YAML indicator such as @ (cron schedules like
// "@every 4h").
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		varExpr := match[2 : len(match)-1]
		if parts := strings.SplitN(varExpr, ":-", 2); len(parts) == 2 {
			if value := os.Getenv(parts[0]); value != "" {
				return value
			}
			return parts[1]
		}
		return os.Getenv(varExpr)
	})
}
