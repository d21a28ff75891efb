// Package jsonutil tolerantly decodes fields from hand-maintained JSON
// exports, where a ticket number may be a number in one file and a string in
// the next.
package jsonutil

import (
	"encoding/json"
	"fmt"
)

// FlexibleString converts a raw JSON value to a string regardless of its
// JSON type. Returns the empty string for null or absent values.
func FlexibleString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}
