// Package check provides small assertion helpers that return errors instead of failing tests,
// for use in configuration validation and internal invariants.
package check

import (
	"fmt"

	"github.com/pkg/errors"
)

// check returns nil if the condition holds and otherwise an error built from the optional
// caller-provided message followed by the default detail message.
func check(condition bool, msgAndArgs []interface{}, defaultMsg string, args ...interface{}) error {
	if condition {
		return nil
	}
	detail := fmt.Sprintf(defaultMsg, args...)
	if msg := message(msgAndArgs); msg != "" {
		return errors.Errorf("%s: %s", msg, detail)
	}
	return errors.New(detail)
}

// message renders the optional caller message: a plain value, or a format string and its
// arguments.
func message(msgAndArgs []interface{}) string {
	switch {
	case len(msgAndArgs) == 0:
		return ""
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}

// True checks whether the condition is true.
func True(condition bool, msgAndArgs ...interface{}) error {
	return check(condition, msgAndArgs, "expected true, got false")
}

// False checks whether the condition is false.
func False(condition bool, msgAndArgs ...interface{}) error {
	return check(!condition, msgAndArgs, "expected false, got true")
}

// GreaterThanOrEqualTo checks whether actual is greater than or equal to expected.
func GreaterThanOrEqualTo(actual, expected float64, msgAndArgs ...interface{}) error {
	return check(actual >= expected, msgAndArgs, "%v is not greater than or equal to %v",
		actual, expected)
}

// NotEmpty checks whether the string is not empty.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return check(actual != "", msgAndArgs, "expected a non-empty string")
}

// Panic panics if the error is not nil. It is used for invariants whose violation is a
// programming error rather than a recoverable condition.
func Panic(err error) {
	if err != nil {
		panic(err)
	}
}
