package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "cycle",
			code:    "S001",
			wantMsg: "Cyclic derivation",
			wantCat: CategoryEngine,
		},
		{
			name:    "storage write",
			code:    "P002",
			wantMsg: "Storage write failed",
			wantCat: CategoryStorage,
		},
		{
			name:    "config backend",
			code:    "C002",
			wantMsg: "Unknown storage backend",
			wantCat: CategoryConfig,
		},
		{
			name:    "unknown error code",
			code:    "S999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			assert.Equal(t, tt.wantMsg, err.Message)
			assert.Equal(t, tt.wantCat, err.Category)
			assert.Equal(t, tt.code, err.Code)
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryConfig, "port %d out of range", 70000)
	assert.Equal(t, "port 70000 out of range", err.Message)
	assert.Equal(t, CategoryConfig, err.Category)
	assert.Equal(t, "port 70000 out of range", err.Error())
}

func TestStateError_Error(t *testing.T) {
	err := New("S001").WithSubject("total")
	assert.Equal(t, "S001: Cyclic derivation (total)", err.Error())

	cause := fmt.Errorf("boom")
	wrapped := New("P001").Wrap(cause)
	assert.Equal(t, "P001: Storage read failed: boom", wrapped.Error())
}

func TestWrapAndUnwrap(t *testing.T) {
	sentinel := stderrors.New("sentinel")
	err := New("S002").Wrap(sentinel)

	assert.True(t, stderrors.Is(err, sentinel))

	outer := fmt.Errorf("context: %w", err)
	var se *StateError
	require.True(t, stderrors.As(outer, &se))
	assert.Equal(t, "S002", se.Code)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil, "P001"))

	plain := stderrors.New("disk full")
	se := FromError(plain, "P002")
	assert.Equal(t, "P002", se.Code)
	assert.Same(t, plain, se.Unwrap())

	existing := New("C001")
	assert.Same(t, existing, FromError(existing, "P002"))
	assert.Same(t, existing, FromError(fmt.Errorf("wrapped: %w", existing), "P002"))
}

func TestHasCode(t *testing.T) {
	inner := New("S001")
	outer := New("S003").Wrap(inner)

	assert.True(t, HasCode(outer, "S003"))
	assert.True(t, HasCode(outer, "S001"))
	assert.False(t, HasCode(outer, "P001"))
	assert.False(t, HasCode(stderrors.New("plain"), "S001"))
	assert.False(t, HasCode(nil, "S001"))
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("P002").
		WithSubject("cart").
		WithSuggestion("check the redis URL").
		Wrap(stderrors.New("connection refused"))

	out := err.Format()
	assert.Contains(t, out, "ERROR P002: Storage write failed")
	assert.Contains(t, out, "cart")
	assert.Contains(t, out, "Cause: connection refused")
	assert.Contains(t, out, "Hint: check the redis URL")

	assert.Equal(t, "P002: Storage write failed [cart]", err.FormatCompact())
}

func TestPrintError(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	PrintError(&buf, New("C002").WithSubject("etcd"))
	assert.Contains(t, buf.String(), "ERROR C002: Unknown storage backend")

	buf.Reset()
	PrintError(&buf, stderrors.New("plain failure"))
	assert.Contains(t, buf.String(), "ERROR: plain failure")
}

func TestWrapText(t *testing.T) {
	assert.Nil(t, wrapText("", 10))
	assert.Equal(t, []string{"short"}, wrapText("short", 10))

	lines := wrapText("one two three four five six seven", 10)
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), 10)
	}
	assert.Equal(t, "one two three four five six seven", strings.Join(lines, " "))
}

func TestLookup(t *testing.T) {
	tmpl, ok := Lookup("S003")
	require.True(t, ok)
	assert.Equal(t, CategoryAsync, tmpl.Category)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}
