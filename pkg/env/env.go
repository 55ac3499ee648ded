// Package env reads raw process environment values for the few knobs needed
// before config parsing, such as the logger's output format.
package env

import "os"

// Get returns the named variable or the fallback when unset or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
