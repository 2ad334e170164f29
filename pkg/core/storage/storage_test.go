package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SaveOpen(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC) }

	url, err := l.Save(context.Background(), "Offering Memo (final).pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^local://2025/03/[0-9a-f-]{36}_Offering_Memo_final_.pdf$`), url)

	rc, err := l.Open(context.Background(), url)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(b))

	url2, err := l.Save(context.Background(), "Offering Memo (final).pdf", strings.NewReader("other"))
	require.NoError(t, err)
	assert.NotEqual(t, url, url2, "same name never overwrites")
}

func TestLocal_PathRejectsEscapes(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, u := range []string{"local://../../etc/passwd", "s3://bucket/key", "local://"} {
		_, err := l.Path(u)
		assert.True(t, errors.Is(err, ErrInvalidURL), u)
	}

	_, err = l.Open(context.Background(), "local://2025/01/missing.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"../../secret.txt":      "secret.txt",
		`C:\docs\model v2.xlsx`: "model_v2.xlsx",
		"...":                   "file",
		"rent roll.xls":         "rent_roll.xls",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeName(in), in)
	}
	long := strings.Repeat("a", 150) + ".pdf"
	got := SafeName(long)
	assert.Len(t, got, 100)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}
