package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Source size limits in bytes
const (
	MaxCardCodeSize = 256 * 1024
	MaxBundleSize   = 4 * 1024 * 1024
)

const (
	MaxIDLength      = 128
	MaxHandlerLength = 128
)

var (
	// SafeIDPattern matches session, stack and card ids
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// HandlerPattern matches a script identifier
	HandlerPattern = regexp.MustCompile(`^[a-zA-Z_$][a-zA-Z0-9_$]*$`)
)

// protoKey rewrites an object's prototype when assigned, so it can never name
// a card or handler
const protoKey = "__proto__"

// ValidateID checks an id field. An empty optional id passes.
func ValidateID(id, fieldName string, required bool) error {
	if id == "" {
		if required {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
	if n := utf8.RuneCountInString(id); n > MaxIDLength {
		return fmt.Errorf("%s is %d characters, limit is %d", fieldName, n, MaxIDLength)
	}
	if !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s %q may only contain letters, digits, hyphens and underscores", fieldName, id)
	}
	if id == protoKey {
		return fmt.Errorf("%s %q is reserved", fieldName, id)
	}
	return nil
}

// ValidateHandlerName checks that name can be looked up in a card's handlers
func ValidateHandlerName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("handler is required")
	case len(name) > MaxHandlerLength:
		return fmt.Errorf("handler name exceeds %d characters", MaxHandlerLength)
	case !HandlerPattern.MatchString(name):
		return fmt.Errorf("handler %q is not a valid identifier", name)
	case name == protoKey:
		return fmt.Errorf("handler %q is reserved", name)
	}
	return nil
}

// ValidateSource checks script source against a byte limit
func ValidateSource(src, fieldName string, maxSize int) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(src) > maxSize {
		return fmt.Errorf("%s size %d bytes exceeds maximum %d bytes", fieldName, len(src), maxSize)
	}
	if !utf8.ValidString(src) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}
	if strings.IndexByte(src, 0) >= 0 {
		return fmt.Errorf("%s contains NUL bytes", fieldName)
	}
	return nil
}
