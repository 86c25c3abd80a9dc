package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/revharvest/revharvest/internal/apperr"
)

// validKeys lists every key accessible through config get/set, in file order.
var validKeys = []string{
	"verbose",
	"output",
	"concurrency",
	"database",
	"provider",
	"providers.viewdns.api_key",
	"providers.viewdns.requests_per_second",
	"providers.viewdns.max_pages",
	"providers.securitytrails.api_key",
	"providers.securitytrails.requests_per_second",
	"providers.securitytrails.max_pages",
	"harvest.page_timeout",
	"harvest.max_retries",
	"export.batch_size",
	"export.chunk_rows",
}

// ValidKeys returns all config keys valid for get/set.
func ValidKeys() []string {
	return slices.Clone(validKeys)
}

// NormalizeKey maps hyphenated key spellings to their canonical underscore
// form, so "harvest.page-timeout" and "harvest.page_timeout" are equivalent.
func NormalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

// ValidateKey reports whether key names a known config entry.
func ValidateKey(key string) error {
	if slices.Contains(validKeys, NormalizeKey(key)) {
		return nil
	}
	return fmt.Errorf("%w: unknown config key %q", apperr.ErrInvalidInput, key)
}

// ParseValue converts a raw string value into the native type for key, so
// config set writes properly typed YAML.
func ParseValue(key, raw string) (any, error) {
	switch NormalizeKey(key) {
	case "verbose":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", apperr.ErrInvalidInput, raw)
		}
		return v, nil
	case "concurrency", "harvest.max_retries", "export.batch_size", "export.chunk_rows",
		"providers.viewdns.max_pages", "providers.securitytrails.max_pages":
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", apperr.ErrInvalidInput, raw)
		}
		return v, nil
	case "providers.viewdns.requests_per_second", "providers.securitytrails.requests_per_second":
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", apperr.ErrInvalidInput, raw)
		}
		return v, nil
	case "harvest.page_timeout":
		if _, err := time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("%w: %q is not a duration (try 30s)", apperr.ErrInvalidInput, raw)
		}
		return raw, nil
	case "output":
		if !slices.Contains([]string{"table", "json", "plain"}, raw) {
			return nil, fmt.Errorf("%w: output must be table, json or plain, got %q", apperr.ErrInvalidInput, raw)
		}
		return raw, nil
	case "provider":
		if !slices.Contains([]string{"viewdns", "securitytrails"}, raw) {
			return nil, fmt.Errorf("%w: provider must be viewdns or securitytrails, got %q", apperr.ErrInvalidInput, raw)
		}
		return raw, nil
	default:
		return raw, nil
	}
}

// KeyCompletions returns value completion candidates for key, or nil when the
// value is free-form.
func KeyCompletions(key string) []string {
	switch NormalizeKey(key) {
	case "verbose":
		return []string{"true", "false"}
	case "output":
		return []string{"table", "json", "plain"}
	case "provider":
		return []string{"viewdns", "securitytrails"}
	default:
		return nil
	}
}
