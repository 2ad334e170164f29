package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
)

// ParseEmail reads an RFC 822 .eml file and renders headers plus the
// text/plain body.
func ParseEmail(path string) (*Result, error) {
	if !strings.EqualFold(filepath.Ext(path), ".eml") {
		return nil, fmt.Errorf("file is not an .eml file: %s", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	dec := new(mime.WordDecoder)
	header := func(key, def string) string {
		v := msg.Header.Get(key)
		if v == "" {
			return def
		}
		if d, err := dec.DecodeHeader(v); err == nil {
			return d
		}
		return v
	}
	from := header("From", "Unknown")
	to := header("To", "Unknown")
	subject := header("Subject", "No Subject")
	date := header("Date", "Unknown")
	cc := header("Cc", "")

	body, hasAttachments, err := plainBody(msg.Header, msg.Body)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("--- Email ---\n")
	fmt.Fprintf(&b, "From: %s\nTo: %s\nSubject: %s\nDate: %s\n", from, to, subject, date)
	if cc != "" {
		fmt.Fprintf(&b, "Cc: %s\n", cc)
	}
	b.WriteString("\n--- Body ---\n")
	b.WriteString(body)
	b.WriteString("\n")

	return &Result{
		Text: b.String(),
		Metadata: map[string]any{
			"from":            from,
			"to":              to,
			"subject":         subject,
			"date":            date,
			"cc":              cc,
			"has_attachments": hasAttachments,
		},
	}, nil
}

type headerGetter interface {
	Get(key string) string
}

// plainBody concatenates every text/plain part, walking nested multiparts.
func plainBody(h headerGetter, r io.Reader) (string, bool, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		data, err := decodeTransfer(h.Get("Content-Transfer-Encoding"), r)
		if err != nil {
			return "", false, err
		}
		if mediaType != "text/plain" {
			return "", false, nil
		}
		text, _ := DecodeText(data)
		return text, false, nil
	}

	var body strings.Builder
	attachments := false
	mr := multipart.NewReader(r, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", false, fmt.Errorf("read multipart: %w", err)
		}
		if disp, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition")); disp == "attachment" {
			attachments = true
			continue
		}
		text, nested, err := plainBody(part.Header, part)
		if err != nil {
			return "", false, err
		}
		attachments = attachments || nested
		body.WriteString(text)
	}
	return body.String(), attachments, nil
}

func decodeTransfer(encoding string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, newlineStripper{r}))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	}
	return io.ReadAll(r)
}

// newlineStripper drops CR/LF so line-wrapped base64 decodes.
type newlineStripper struct{ r io.Reader }

func (n newlineStripper) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	m, err := n.r.Read(buf)
	j := 0
	for _, c := range buf[:m] {
		if c != '\r' && c != '\n' {
			p[j] = c
			j++
		}
	}
	return j, err
}
