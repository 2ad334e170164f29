// Package parser turns stored documents into plain text plus metadata,
// choosing a parser by declared document type, extension or content.
package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"deal_intake/pkg/models"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// ErrParse is matched by every error the dispatcher returns.
var ErrParse = errors.New("document parsing failed")

// ParseError records which file failed and why.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", filepath.Base(e.Path), e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

func parseErr(path string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{Path: path, Err: err}
}

// Result is the parsed text and parser-specific metadata.
type Result struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	// Kind names the parser that ran: pdf, spreadsheet, text or email.
	Kind string `json:"kind"`
}

// Parser kinds.
const (
	KindPDF         = "pdf"
	KindSpreadsheet = "spreadsheet"
	KindText        = "text"
	KindEmail       = "email"
)

type Dispatcher struct {
	logger *zap.Logger
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Route picks a parser kind. The declared type wins, then the extension,
// then content sniffing; anything unrecognized is read as text.
func (d *Dispatcher) Route(path string, declared models.DocumentType) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case declared == models.DocOfferMemo || ext == ".pdf":
		return KindPDF
	case declared == models.DocFinancialModel || ext == ".xlsx" || ext == ".xls" || ext == ".xlsm":
		return KindSpreadsheet
	case declared == models.DocTranscript || ext == ".txt" || ext == ".md":
		return KindText
	case declared == models.DocEmail || ext == ".eml":
		return KindEmail
	}

	if kind, ok := sniff(path); ok {
		d.logger.Info("document type inferred from content", zap.String("path", path), zap.String("kind", kind))
		return kind
	}
	d.logger.Warn("unknown document type, attempting text parsing",
		zap.String("path", path), zap.String("declared", string(declared)))
	return KindText
}

func sniff(path string) (string, bool) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", false
	}
	for m := mt; m != nil; m = m.Parent() {
		switch m.String() {
		case "application/pdf":
			return KindPDF, true
		case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.ms-excel":
			return KindSpreadsheet, true
		case "message/rfc822":
			return KindEmail, true
		}
	}
	return "", false
}

// Parse reads the file at path. Errors satisfy errors.Is(err, ErrParse).
func (d *Dispatcher) Parse(ctx context.Context, path string, declared models.DocumentType) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, parseErr(path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, parseErr(path, fmt.Errorf("file not found: %w", err))
	}

	kind := d.Route(path, declared)
	var (
		res *Result
		err error
	)
	switch kind {
	case KindPDF:
		res, err = ParsePDF(path)
	case KindSpreadsheet:
		res, err = ParseSpreadsheet(path)
	case KindEmail:
		res, err = ParseEmail(path)
	default:
		res, err = ParseText(path)
	}
	if err != nil {
		d.logger.Warn("document parsing failed", zap.String("path", path), zap.String("kind", kind), zap.Error(err))
		return nil, parseErr(path, err)
	}
	res.Kind = kind
	d.logger.Info("document parsed",
		zap.String("path", path),
		zap.String("kind", kind),
		zap.Int("characters", len(res.Text)))
	return res, nil
}
