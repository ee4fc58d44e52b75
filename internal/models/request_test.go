package models

import (
	"strings"
	"testing"
)

const testRequestID = "3f2c8a2e-6b54-4f2a-9c1d-8e7a5b3d1f90"

func TestParseCaptureMessageDefaults(t *testing.T) {
	m, err := ParseCaptureMessage(`{"url":"example.com","requestId":"` + testRequestID + `","ignored":"field"}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m.ApplyDefaults(1920, 1080)
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Width != 1920 || m.Height != 1080 {
		t.Fatalf("expected default viewport, got %dx%d", m.Width, m.Height)
	}
	if m.Format != FormatPNG {
		t.Fatalf("expected png default, got %q", m.Format)
	}
	if *m.Quality != 80 {
		t.Fatalf("expected quality 80, got %d", *m.Quality)
	}
	if m.FullPage {
		t.Fatalf("expected fullPage false by default")
	}
}

func TestParseCaptureMessageExplicitZeroQuality(t *testing.T) {
	m, err := ParseCaptureMessage(`{"url":"example.com","requestId":"` + testRequestID + `","format":"jpeg","quality":0}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m.ApplyDefaults(1920, 1080)
	if *m.Quality != 0 {
		t.Fatalf("explicit quality 0 overwritten to %d", *m.Quality)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseCaptureMessageInvalidJSON(t *testing.T) {
	if _, err := ParseCaptureMessage(`{"url":`); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing url", `{"requestId":"` + testRequestID + `"}`, "url is required"},
		{"missing requestId", `{"url":"example.com"}`, "requestId is required"},
		{"requestId not a uuid", `{"url":"example.com","requestId":"not-a-uuid"}`, "not a UUID"},
		{"width too small", `{"url":"example.com","requestId":"` + testRequestID + `","width":50}`, "width"},
		{"height too large", `{"url":"example.com","requestId":"` + testRequestID + `","height":9000}`, "height"},
		{"bad format", `{"url":"example.com","requestId":"` + testRequestID + `","format":"webp"}`, "format"},
		{"quality too large", `{"url":"example.com","requestId":"` + testRequestID + `","quality":101}`, "quality"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := ParseCaptureMessage(tc.body)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			m.ApplyDefaults(1920, 1080)
			err = m.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
