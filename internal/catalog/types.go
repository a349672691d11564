package catalog

// Definition is one parsed service definition.
type Definition struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Metadata identifies the service and its owners.
type Metadata struct {
	Name    string `yaml:"name"`
	Team    string `yaml:"team,omitempty"`
	Service string `yaml:"service,omitempty"`
	Owner   string `yaml:"owner,omitempty"`
}

// Spec is the budget policy of a service.
type Spec struct {
	SLOTarget float64 `yaml:"sloTarget"`
	Window    string  `yaml:"window"`
}

// DefinitionFile pairs a definition with its source file and raw document.
type DefinitionFile struct {
	Definition *Definition
	File       string
	// raw is the decoded document, validated as-is so missing fields are
	// reported instead of zeroed.
	raw any
}

// ValidationError represents a validation error for a specific file
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}
