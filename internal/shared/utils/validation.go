package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Payload size limits (in bytes)
const (
	MaxJSONSize     = 1 * 1024 * 1024  // 1MB - maximum JSON payload size
	MaxManifestSize = 512 * 1024       // 512KB - lifecycle manifest size limit
	MaxUploadSize   = 256 * 1024 * 1024 // 256MB - uploaded archive size limit
)

// String length limits
const (
	MaxIDLength          = 128
	MaxSlugLength        = 128
	MaxNameLength        = 256
	MaxVersionLength     = 64
	MaxURLLength         = 2048
	MaxDescriptionLength = 2048
)

// Regular expressions for validation
var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// SlugPattern is the canonical plugin slug shape
	SlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	// ServiceNamePattern allows alphanumeric, hyphens, underscores, and dots
	ServiceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil // Optional field, empty is OK
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// Check for null bytes (security issue)
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateSlug validates a plugin slug
func ValidateSlug(slug string, required bool) error {
	if err := ValidateString(slug, "slug", 1, MaxSlugLength, required); err != nil {
		return err
	}

	if slug != "" && !SlugPattern.MatchString(slug) {
		return fmt.Errorf("slug contains invalid characters (lowercase alphanumeric with single hyphens, e.g. network-eyes)")
	}

	return nil
}

// ValidateServiceName validates a declared service name
func ValidateServiceName(name string, required bool) error {
	if err := ValidateString(name, "service name", 1, MaxNameLength, required); err != nil {
		return err
	}

	if name != "" && !ServiceNamePattern.MatchString(name) {
		return fmt.Errorf("service name contains invalid characters (only alphanumeric, dots, hyphens, and underscores allowed)")
	}

	return nil
}

// ValidateRepoURL validates a repository URL shape before parsing.
// Only https GitHub URLs are accepted for remote installs.
func ValidateRepoURL(raw string) error {
	if err := ValidateString(raw, "repository URL", 1, MaxURLLength, true); err != nil {
		return err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("repository URL is not a valid URL: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("repository URL must use https")
	}
	if !strings.EqualFold(u.Host, "github.com") && !strings.HasSuffix(strings.ToLower(u.Host), ".github.com") {
		return fmt.Errorf("repository URL must point at github.com")
	}

	return nil
}

// Slugify derives a canonical slug from a plugin name: lowercase,
// non-alphanumeric runs collapse to single hyphens, edges trimmed.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
