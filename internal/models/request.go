package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a screenshot request record.
type Status string

const (
	// StatusProcessing is written by the enqueuer before the message is sent.
	StatusProcessing Status = "processing"
	// StatusConsumerProcessing marks the record as claimed by a worker.
	StatusConsumerProcessing Status = "consumerProcessing"
	StatusSuccess            Status = "success"
	StatusFailed             Status = "failed"
)

// RequestRecord is the per-request row in the record store. ObjectURL and
// ObjectKey are set only on success, ErrorMessage only on failure.
type RequestRecord struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Status       Status    `json:"status"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Format       string    `json:"format"`
	Quality      int       `json:"quality"`
	FullPage     bool      `json:"fullPage"`
	ObjectURL    string    `json:"objectUrl,omitempty"`
	ObjectKey    string    `json:"objectKey,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"

	MinWidth  = 100
	MaxWidth  = 3840
	MinHeight = 100
	MaxHeight = 2160
)

// CaptureMessage is the queue message body. Unknown fields are ignored;
// Quality is a pointer so an explicit 0 survives defaulting.
type CaptureMessage struct {
	URL       string `json:"url"`
	RequestID string `json:"requestId"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Quality   *int   `json:"quality"`
	FullPage  bool   `json:"fullPage"`
}

// ParseCaptureMessage decodes a raw queue message body.
func ParseCaptureMessage(body string) (CaptureMessage, error) {
	var m CaptureMessage
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return CaptureMessage{}, fmt.Errorf("decode capture message: %w", err)
	}
	return m, nil
}

// ApplyDefaults fills unset fields: png, quality 80, viewport from config.
func (m *CaptureMessage) ApplyDefaults(width, height int) {
	if m.Width == 0 {
		m.Width = width
	}
	if m.Height == 0 {
		m.Height = height
	}
	if m.Format == "" {
		m.Format = FormatPNG
	}
	if m.Quality == nil {
		q := 80
		m.Quality = &q
	}
}

// Validate checks the message after defaulting. A failure here means the
// message can never be handled and belongs in the dead-letter queue.
func (m CaptureMessage) Validate() error {
	if m.URL == "" {
		return fmt.Errorf("url is required")
	}
	if m.RequestID == "" {
		return fmt.Errorf("requestId is required")
	}
	if _, err := uuid.Parse(m.RequestID); err != nil {
		return fmt.Errorf("requestId %q is not a UUID", m.RequestID)
	}
	if m.Width < MinWidth || m.Width > MaxWidth {
		return fmt.Errorf("width %d outside %d..%d", m.Width, MinWidth, MaxWidth)
	}
	if m.Height < MinHeight || m.Height > MaxHeight {
		return fmt.Errorf("height %d outside %d..%d", m.Height, MinHeight, MaxHeight)
	}
	if m.Format != FormatPNG && m.Format != FormatJPEG {
		return fmt.Errorf("format %q must be png or jpeg", m.Format)
	}
	if m.Quality != nil && (*m.Quality < 0 || *m.Quality > 100) {
		return fmt.Errorf("quality %d outside 0..100", *m.Quality)
	}
	return nil
}
