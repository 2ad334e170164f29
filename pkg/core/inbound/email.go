// Package inbound parses inbound-email webhook payloads (SendGrid Inbound
// Parse, Mailgun Routes) into a provider-neutral Email.
package inbound

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPayload is returned for webhook bodies missing required fields.
var ErrInvalidPayload = errors.New("invalid inbound email payload")

// Attachment is a file carried by an inbound email.
type Attachment struct {
	FileName    string
	ContentType string
	Content     []byte
}

func (a Attachment) Size() int64 { return int64(len(a.Content)) }

// Email is a parsed inbound message.
type Email struct {
	FromAddress string
	FromName    string
	To          []string
	Cc          []string
	Subject     string
	BodyText    string
	// BodyHTML is sanitized.
	BodyHTML    string
	Date        *time.Time
	MessageID   string
	InReplyTo   string
	RawHeaders  map[string]string
	Attachments []Attachment
}

// AttachmentNames lists file names in arrival order.
func (e *Email) AttachmentNames() []string {
	names := make([]string, len(e.Attachments))
	for i, a := range e.Attachments {
		names[i] = a.FileName
	}
	return names
}

// FormatAsText renders the email the way it is stored as a deal document.
func (e *Email) FormatAsText() string {
	from := strings.TrimSpace(fmt.Sprintf("From: %s <%s>", e.FromName, e.FromAddress))
	lines := []string{
		"--- Forwarded Email ---",
		from,
		"To: " + strings.Join(e.To, ", "),
	}
	if len(e.Cc) > 0 {
		lines = append(lines, "Cc: "+strings.Join(e.Cc, ", "))
	}
	lines = append(lines, "Subject: "+e.Subject)
	if e.Date != nil {
		lines = append(lines, "Date: "+e.Date.Format(time.RFC3339))
	}
	if len(e.Attachments) > 0 {
		lines = append(lines, "Attachments: "+strings.Join(e.AttachmentNames(), ", "))
	}
	body := e.BodyText
	if body == "" {
		body = "(No text content)"
	}
	lines = append(lines, "", "--- Body ---", body)
	return strings.Join(lines, "\n")
}

// Metadata is the metadata_json stored with an email deal document.
func (e *Email) Metadata() map[string]any {
	var date any
	if e.Date != nil {
		date = e.Date.Format(time.RFC3339)
	}
	return map[string]any{
		"email": map[string]any{
			"from_address":     e.FromAddress,
			"from_name":        nullable(e.FromName),
			"to_addresses":     nonNil(e.To),
			"cc_addresses":     nonNil(e.Cc),
			"subject":          e.Subject,
			"date":             date,
			"message_id":       nullable(e.MessageID),
			"in_reply_to":      nullable(e.InReplyTo),
			"has_attachments":  len(e.Attachments) > 0,
			"attachment_count": len(e.Attachments),
			"attachment_names": e.AttachmentNames(),
		},
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
