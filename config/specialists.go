package config

import "fmt"

// Supported specialist providers.
const (
	ProviderStatic    = "static"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// SpecialistConfig declares one specialist analyzer. An empty specialist
// list keeps the built-in static pool, which runs the full pipeline with no
// API keys.
type SpecialistConfig struct {
	// ID is the specialist identifier the routing table refers to, for
	// example housing_law.
	ID string `yaml:"id"`

	// Provider is static, anthropic, openai, or google.
	Provider string `yaml:"provider"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable holding the provider API
	// key. Keys never appear in config files.
	APIKeyEnv string `yaml:"api_key_env"`
}

// Finalize applies defaults and validation.
func (c *SpecialistConfig) Finalize() error {
	if c.Provider == "" {
		c.Provider = ProviderStatic
	}
	return c.validate()
}

func (c *SpecialistConfig) validate() error {
	if c.ID == "" {
		return fmt.Errorf("specialist id is required")
	}
	switch c.Provider {
	case ProviderStatic:
		return nil
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
		if c.APIKeyEnv == "" {
			return fmt.Errorf("specialist %s: provider %s requires api_key_env", c.ID, c.Provider)
		}
		return nil
	default:
		return fmt.Errorf("specialist %s: unknown provider %q", c.ID, c.Provider)
	}
}
