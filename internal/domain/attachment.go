package domain

import (
	"fmt"
	"strings"
)

const defaultAttachmentContentType = "application/octet-stream"

// Attachment is either inline base64 data or a remote reference (http(s):// or s3://).
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	DataBase64  string `json:"data_base64,omitempty"`
	RemoteURL   string `json:"remote_url,omitempty"`
}

func (a Attachment) Validate() error {
	if strings.TrimSpace(a.Filename) == "" {
		return fmt.Errorf("%w: attachment filename is required", ErrValidation)
	}
	if strings.TrimSpace(a.DataBase64) == "" && strings.TrimSpace(a.RemoteURL) == "" {
		return fmt.Errorf("%w: attachment %q requires data_base64 or remote_url", ErrValidation, a.Filename)
	}
	return nil
}

func (a Attachment) MediaType() string {
	if ct := strings.TrimSpace(a.ContentType); ct != "" {
		return ct
	}
	return defaultAttachmentContentType
}

// ResolvedAttachment holds attachment bytes ready for a transport.
type ResolvedAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}
