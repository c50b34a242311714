// Package validate holds the catalog's field limits. Handlers return the
// message as a 400 body; an empty string means the value is acceptable.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
)

const (
	MaxIDLength          = 64
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxMediaURLLength    = 2048
	// bcrypt ignores input past 72 bytes.
	MaxPasswordLength = 72
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

func ID(s string) string {
	if s == "" {
		return "id is required"
	}
	if msg := checkLen(s, MaxIDLength, "id"); msg != "" {
		return msg
	}
	if !idPattern.MatchString(s) {
		return "id may contain only letters, digits, '-' and '_'"
	}
	return ""
}

func Title(s string) string       { return checkLen(s, MaxTitleLength, "title") }
func Description(s string) string { return checkLen(s, MaxDescriptionLength, "description") }

// MediaURL accepts an empty value or an absolute http(s) URL.
func MediaURL(s string) string {
	if s == "" {
		return ""
	}
	if msg := checkLen(s, MaxMediaURLLength, "media URL"); msg != "" {
		return msg
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "media URL must be an absolute http or https URL"
	}
	return ""
}

func Password(s string) string {
	if s == "" {
		return "password is required"
	}
	return checkLen(s, MaxPasswordLength, "password")
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"id":          MaxIDLength,
		"title":       MaxTitleLength,
		"description": MaxDescriptionLength,
		"mediaUrl":    MaxMediaURLLength,
		"password":    MaxPasswordLength,
	}
}
