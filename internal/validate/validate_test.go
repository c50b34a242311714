package validate

import (
	"strings"
	"testing"
)

func TestID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid", "intro-01", ""},
		{"underscore", "pro_track", ""},
		{"empty", "", "id is required"},
		{"leading dash", "-intro", "id may contain only letters, digits, '-' and '_'"},
		{"slash", "a/b", "id may contain only letters, digits, '-' and '_'"},
		{"over limit", strings.Repeat("a", MaxIDLength+1), "id must be 64 characters or fewer"},
	}
	for _, tt := range tests {
		if got := ID(tt.input); got != tt.want {
			t.Errorf("ID(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"valid", "Getting started", ""},
		{"at limit", string(make([]byte, MaxTitleLength)), ""},
		{"over limit", string(make([]byte, MaxTitleLength+1)), "title must be 200 characters or fewer"},
	}
	for _, tt := range tests {
		if got := Title(tt.input); got != tt.want {
			t.Errorf("Title(%q [len=%d]) = %q, want %q", tt.name, len(tt.input), got, tt.want)
		}
	}
}

func TestDescription(t *testing.T) {
	if got := Description(string(make([]byte, MaxDescriptionLength+1))); got != "description must be 2000 characters or fewer" {
		t.Errorf("unexpected message %q", got)
	}
	if got := Description(""); got != "" {
		t.Errorf("expected empty description to pass, got %q", got)
	}
}

func TestMediaURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"empty", "", true},
		{"https", "https://cdn.example.com/v1.mp4", true},
		{"http", "http://localhost:9000/v1.mp4", true},
		{"relative", "/media/v1.mp4", false},
		{"ftp", "ftp://example.com/v1.mp4", false},
		{"over limit", "https://example.com/" + strings.Repeat("a", MaxMediaURLLength), false},
	}
	for _, tt := range tests {
		got := MediaURL(tt.input)
		if (got == "") != tt.ok {
			t.Errorf("MediaURL(%s) = %q, want ok=%v", tt.name, got, tt.ok)
		}
	}
}

func TestPassword(t *testing.T) {
	if got := Password(""); got != "password is required" {
		t.Errorf("Password(empty) = %q", got)
	}
	if got := Password(strings.Repeat("a", MaxPasswordLength)); got != "" {
		t.Errorf("Password(at limit) = %q, want empty", got)
	}
	if got := Password(strings.Repeat("a", MaxPasswordLength+1)); got != "password must be 72 characters or fewer" {
		t.Errorf("Password(over limit) = %q", got)
	}
}

func TestFieldLimits(t *testing.T) {
	limits := FieldLimits()
	if limits["title"] != MaxTitleLength {
		t.Errorf("title limit = %d, want %d", limits["title"], MaxTitleLength)
	}
	if limits["password"] != MaxPasswordLength {
		t.Errorf("password limit = %d, want %d", limits["password"], MaxPasswordLength)
	}
	if len(limits) != 5 {
		t.Errorf("expected 5 limits, got %d", len(limits))
	}
}
