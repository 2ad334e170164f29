package parser

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ParseText reads a text file, detecting its encoding.
func ParseText(path string) (*Result, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content, enc := DecodeText(raw)

	lines := 0
	if content != "" {
		lines = strings.Count(content, "\n") + 1
		if strings.HasSuffix(content, "\n") {
			lines--
		}
	}
	return &Result{
		Text: content,
		Metadata: map[string]any{
			"encoding":   enc,
			"lines":      lines,
			"characters": utf8.RuneCountInString(content),
		},
	}, nil
}

// DecodeText converts raw bytes to a UTF-8 string and names the encoding it
// used. Order: BOM, UTF-8 validity, then charset sniffing. Undecodable input
// is read as UTF-8 with replacement characters.
func DecodeText(raw []byte) (string, string) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return string(raw[3:]), "utf-8-sig"
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		if s, err := decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), raw); err == nil {
			return s, "utf-16-le"
		}
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		if s, err := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), raw); err == nil {
			return s, "utf-16-be"
		}
	}

	if utf8.Valid(raw) {
		return string(raw), "utf-8"
	}

	enc, name, _ := charset.DetermineEncoding(raw, "text/plain")
	if s, err := decodeWith(enc, raw); err == nil {
		return s, name
	}
	return strings.ToValidUTF8(string(raw), "�"), "utf-8 (with errors replaced)"
}

func decodeWith(enc encoding.Encoding, raw []byte) (string, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), raw)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return string(out), nil
}
