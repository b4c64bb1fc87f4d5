package models

// PersonaConfig holds the sampling and style parameters of a teacher persona.
type PersonaConfig struct {
	Temperature   float64  `json:"temperature" yaml:"temperature"`
	MaxTokens     int      `json:"max_tokens" yaml:"max_tokens"`
	Model         string   `json:"model" yaml:"model"`
	Personality   string   `json:"personality" yaml:"personality"`
	TeachingStyle string   `json:"teaching_style" yaml:"teaching_style"`
	Techniques    []string `json:"techniques,omitempty" yaml:"techniques,omitempty"`
}

// PersonaSpec describes a persona in configuration.
type PersonaSpec struct {
	Name      string         `yaml:"name"`
	Subject   string         `yaml:"subject"`
	Grade     int            `yaml:"grade"`
	School    string         `yaml:"school"`
	Materials string         `yaml:"materials"`
	Config    *PersonaConfig `yaml:"config,omitempty"`
}
