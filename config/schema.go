package config

import (
	"sync"

	"github.com/grovetools/appshell/schema"
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// GenerateSchema generates the JSON Schema for the appshell configuration.
// Extension keys are not described and are allowed as additional properties.
func GenerateSchema() ([]byte, error) {
	type BaseConfig struct {
		UI     UIConfig     `yaml:"ui,omitempty" jsonschema:"description=Renderer boundary settings"`
		Data   DataConfig   `yaml:"data,omitempty" jsonschema:"description=Data process settings"`
		Update UpdateConfig `yaml:"update,omitempty" jsonschema:"description=Application update settings"`
	}
	return schema.Reflect(&BaseConfig{}, "yaml", true)
}

// schemaValidator returns the compiled configuration validator.
func schemaValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			validatorErr = err
			return
		}
		validator, validatorErr = schema.NewValidator("appshell.json", data)
	})
	return validator, validatorErr
}
