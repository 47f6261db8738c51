package models

// ErrorResponse is the body of every non-2xx API reply.
type ErrorResponse struct {
	Message string `json:"message" example:"Error message describing the issue"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// RuleTable is the classifier configuration as served by the API and the
// rules command.
type RuleTable struct {
	Labels   map[string]DataKind `json:"labels" yaml:"labels"`
	URLRules []URLRule           `json:"urlRules" yaml:"url_rules"`
}

type URLRule struct {
	Kind     DataKind `json:"kind" yaml:"kind"`
	Patterns []string `json:"patterns" yaml:"patterns"`
}
