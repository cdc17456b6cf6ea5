// Package utils holds small helpers shared across layers, kept free of
// domain types so transport and service code can both use them.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi, falling back
// to def when the string is empty or not an integer. Query parameters such
// as page and page_size reach the handlers as strings; this keeps their
// parsing and defaulting in one place.
//
// Example:
//
//	page := utils.AtoiDefault(c.Query("page"), 1)
//	size := utils.AtoiDefault(c.Query("page_size"), 20)
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
