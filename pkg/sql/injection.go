// Package sql screens operator-supplied identifiers before they are used to
// steer tenant queries.
package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on an input value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Field       string // Name of the input that failed the check
	Value       string // The value that was checked
}

// CheckForInjection uses libinjection to detect SQL injection patterns in value.
//
// Returns nil if no injection is detected, or an InjectionCheckResult with
// details about the detected pattern.
//
// Example:
//
//	result := CheckForInjection("selected_tables", "public.users")
//	// result == nil
//
//	result := CheckForInjection("selected_tables", "users; DROP TABLE users--")
//	// result.IsSQLi == true
func CheckForInjection(field, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			Field:       field,
			Value:       value,
		}
	}

	return nil
}

// CheckAll screens every value of a list input, in order. Returns an empty
// slice if all values are clean.
func CheckAll(field string, values []string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, v := range values {
		if result := CheckForInjection(field, v); result != nil {
			results = append(results, result)
		}
	}
	return results
}
