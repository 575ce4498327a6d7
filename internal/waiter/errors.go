package waiter

import "fmt"

// ConfigError reports an unusable waiter configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("waiter config error: %s", e.Message)
}

// ActionError wraps a failure of the action itself. Action failures are never retried.
type ActionError struct {
	Name    string
	Attempt int
	Cause   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: action failed on attempt %d: %v", e.Name, e.Attempt, e.Cause)
}

func (e *ActionError) Unwrap() error {
	return e.Cause
}

// ConditionError wraps a condition check that failed for a reason other than
// the condition simply not holding before the per-attempt deadline.
type ConditionError struct {
	Name    string
	Attempt int
	Cause   error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("%s: condition check failed on attempt %d: %v", e.Name, e.Attempt, e.Cause)
}

func (e *ConditionError) Unwrap() error {
	return e.Cause
}
