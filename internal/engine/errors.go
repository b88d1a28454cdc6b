package engine

import "errors"

// Skip signals. PlanRule returns one of these instead of a plan when the
// rule was deliberately not planned; they are not failures.
var (
	// ErrRuleDisabled means the rule's enabled flag is off.
	ErrRuleDisabled = errors.New("rule is disabled")

	// ErrOutsideSchedule means the current instant falls outside the rule's
	// schedule window.
	ErrOutsideSchedule = errors.New("rule is outside its schedule window")
)

// Configuration errors. The rule cannot be planned until it is fixed; they
// affect only the rule that carries the bad config and are not retryable.
var (
	// ErrNoCollection means the rule has no target collection slug.
	ErrNoCollection = errors.New("rule has no collection assigned")

	// ErrMissingGroup means an auto-sync rule carries no Dispatcharr group
	// to derive its pattern from.
	ErrMissingGroup = errors.New("auto-sync rule has no linked channel group")
)

// IsSkip reports whether err is a skip signal rather than a failure.
func IsSkip(err error) bool {
	return errors.Is(err, ErrRuleDisabled) || errors.Is(err, ErrOutsideSchedule)
}

// IsConfig reports whether err is a rule configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrNoCollection) || errors.Is(err, ErrMissingGroup)
}
