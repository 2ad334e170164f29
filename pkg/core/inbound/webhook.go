package inbound

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var (
	fromPattern     = regexp.MustCompile(`^(?:"?([^"<]*)"?\s*)?<([^>]+)>`)
	dateHeader      = regexp.MustCompile(`(?im)^Date:\s*(.+)$`)
	messageIDHeader = regexp.MustCompile(`(?im)^Message-ID:\s*<?([^>\s]+)>?`)
	inReplyToHeader = regexp.MustCompile(`(?im)^In-Reply-To:\s*<?([^>\s]+)>?`)
	attachmentField = regexp.MustCompile(`^attachment([0-9]+)$`)
	defaultSubject  = "(No Subject)"
	octetStream     = "application/octet-stream"
)

// payload is the provider-neutral view of a multipart webhook body.
type payload struct {
	fields map[string]string
	files  map[string]*multipart.FileHeader
}

func newPayload(form *multipart.Form) payload {
	p := payload{fields: map[string]string{}, files: map[string]*multipart.FileHeader{}}
	if form == nil {
		return p
	}
	for k, v := range form.Value {
		if len(v) > 0 {
			p.fields[k] = v[0]
		}
	}
	for k, v := range form.File {
		if len(v) > 0 {
			p.files[k] = v[0]
		}
	}
	return p
}

// ParseSendGrid parses a SendGrid Inbound Parse webhook form.
func ParseSendGrid(form *multipart.Form, now func() time.Time) (*Email, error) {
	return parse(newPayload(form), now)
}

// ParseMailgun maps Mailgun's route fields onto the SendGrid layout and parses
// the result.
func ParseMailgun(form *multipart.Form, now func() time.Time) (*Email, error) {
	src := newPayload(form)
	p := payload{fields: map[string]string{}, files: map[string]*multipart.FileHeader{}}

	from := src.fields["from"]
	if from == "" {
		from = src.fields["sender"]
	}
	p.fields["from"] = from
	p.fields["to"] = src.fields["recipient"]
	p.fields["cc"] = src.fields["Cc"]
	p.fields["subject"] = src.fields["subject"]
	p.fields["text"] = src.fields["body-plain"]
	p.fields["html"] = src.fields["body-html"]
	p.fields["headers"] = src.fields["message-headers"]
	p.fields["attachments"] = src.fields["attachment-count"]
	for k, fh := range src.files {
		// Mailgun names files attachment-1..N.
		p.files[strings.Replace(k, "attachment-", "attachment", 1)] = fh
	}
	return parse(p, now)
}

func parse(p payload, now func() time.Time) (*Email, error) {
	if now == nil {
		now = time.Now
	}
	rawFrom := strings.TrimSpace(p.fields["from"])
	if rawFrom == "" {
		return nil, fmt.Errorf("%w: missing 'from' field", ErrInvalidPayload)
	}
	name, addr := parseFrom(rawFrom)

	headers := p.fields["headers"]
	e := &Email{
		FromAddress: addr,
		FromName:    name,
		To:          splitAddresses(p.fields["to"]),
		Cc:          splitAddresses(p.fields["cc"]),
		Subject:     p.fields["subject"],
		BodyText:    p.fields["text"],
		BodyHTML:    SanitizeHTML(p.fields["html"]),
		RawHeaders:  parseHeaders(headers),
	}
	if e.Subject == "" {
		e.Subject = defaultSubject
	}
	if e.BodyText == "" && e.BodyHTML != "" {
		e.BodyText = HTMLToText(e.BodyHTML)
	}
	if m := messageIDHeader.FindStringSubmatch(headers); m != nil {
		e.MessageID = m[1]
	}
	if m := inReplyToHeader.FindStringSubmatch(headers); m != nil {
		e.InReplyTo = m[1]
	}

	date := now().UTC()
	if m := dateHeader.FindStringSubmatch(headers); m != nil {
		if d, err := mail.ParseDate(strings.TrimSpace(m[1])); err == nil {
			date = d
		}
	}
	e.Date = &date

	atts, err := readAttachments(p)
	if err != nil {
		return nil, err
	}
	e.Attachments = atts
	return e, nil
}

// parseFrom splits `"Name" <addr>` forms; a bare address has no name.
func parseFrom(raw string) (name, addr string) {
	if a, err := mail.ParseAddress(raw); err == nil {
		return a.Name, a.Address
	}
	if m := fromPattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	return "", raw
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseHeaders(raw string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// attachmentCount is the declared count, or the highest attachmentN file
// field when the count is missing.
func attachmentCount(p payload) int {
	if n, err := strconv.Atoi(strings.TrimSpace(p.fields["attachments"])); err == nil && n > 0 {
		return n
	}
	count := 0
	for field := range p.files {
		m := attachmentField.FindStringSubmatch(field)
		if m == nil {
			continue
		}
		if n, _ := strconv.Atoi(m[1]); n > count {
			count = n
		}
	}
	return count
}

func readAttachments(p payload) ([]Attachment, error) {
	count := attachmentCount(p)
	var out []Attachment
	for i := 1; i <= count; i++ {
		fh, ok := p.files["attachment"+strconv.Itoa(i)]
		if !ok {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open attachment %d: %w", i, err)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read attachment %d: %w", i, err)
		}

		name := fh.Filename
		if name == "" {
			name = fmt.Sprintf("attachment%d", i)
		}
		ct := fh.Header.Get("Content-Type")
		if ct == "" || ct == octetStream {
			ct = mimetype.Detect(content).String()
		}
		if base, _, ok := strings.Cut(ct, ";"); ok {
			ct = strings.TrimSpace(base)
		}
		out = append(out, Attachment{FileName: name, ContentType: ct, Content: content})
	}
	return out, nil
}
