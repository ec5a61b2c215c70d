package api

import "path/filepath"

// sameProject compares a caller-supplied path with an event's absolute project key.
func sameProject(query, key string) bool {
	abs, err := filepath.Abs(query)
	if err != nil {
		return false
	}
	return abs == key
}
