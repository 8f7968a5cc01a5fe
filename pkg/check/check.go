package check

import (
	"github.com/pkg/errors"
)

// True checks whether the condition is true. The returned error is nil if the check passes.
func True(condition bool, msgAndArgs ...interface{}) error {
	if condition {
		return nil
	}
	return errors.New(messageFromMsgAndArgs(false, msgAndArgs...))
}

// False checks whether the condition is false.
func False(condition bool, msgAndArgs ...interface{}) error {
	return True(!condition, msgAndArgs...)
}

// Equal checks whether the two arguments are equal.
func Equal(actual, expected interface{}, msgAndArgs ...interface{}) error {
	if actual == expected {
		return nil
	}
	return errors.Errorf("%s: %s != %s",
		messageFromMsgAndArgs(false, msgAndArgs...), format(actual), format(expected))
}

// NotEmpty checks whether the argument is a non-empty string.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return True(actual != "", msgAndArgs...)
}

// Panic panics if the error is not nil. It is used to enforce programming invariants that should
// never fail at runtime.
func Panic(err error) {
	if err != nil {
		panic(err)
	}
}
