package experiment

import "fmt"

// Validation rules reported in ValidationError.Rule.
const (
	RuleTrafficSum      = "traffic-sum"
	RuleTrafficRange    = "traffic-range"
	RuleSingleControl   = "single-control"
	RuleMinVariants     = "min-variants"
	RuleStructureFrozen = "structure-frozen"
	RuleImmutable       = "completed-immutable"
	RuleUnknownVariant  = "unknown-variant"
	RuleRequired        = "required"
	RuleInvalidValue    = "invalid-value"
)

// ValidationError rejects a malformed test or variant configuration and
// names the rule that was violated.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
}

func invalid(rule, format string, args ...any) error {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}
