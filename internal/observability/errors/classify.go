// Package errors derives stable tag values from Go errors for metrics and logs.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
)

// Classify returns a normalised type name for the innermost error, suitable
// for use as a metric tag value.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(t.String())
	name = strings.ReplaceAll(name, "*", "")
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
