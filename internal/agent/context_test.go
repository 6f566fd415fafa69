package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatQuery(t *testing.T) {
	got := FormatQuery(config.DefaultQueryFmt, fixedContext(), "logs from {context} yesterday")
	assert.Equal(t,
		"Context: {\"os_name\":\"linux\",\"system_locale\":\"en-US\",\"time_now\":\"2024-05-01T12:00:00\",\"username\":\"tester\"}\nQuery: logs from {context} yesterday",
		got)
}

func TestFormatQuery_NoContextPlaceholder(t *testing.T) {
	assert.Equal(t, "just q", FormatQuery("just {query}", fixedContext(), "q"))
}

func TestSystemLocale(t *testing.T) {
	tests := []struct {
		lcAll, lang string
		want        string
	}{
		{"", "de_DE.UTF-8", "de-DE"},
		{"fr_CA.UTF-8", "de_DE.UTF-8", "fr-CA"},
		{"", "sr_RS@latin", "sr-RS"},
		{"C", "", "en-US"},
		{"", "C.UTF-8", "en-US"},
		{"", "", "en-US"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s|%s", tt.lcAll, tt.lang), func(t *testing.T) {
			t.Setenv("LC_ALL", tt.lcAll)
			t.Setenv("LC_MESSAGES", "")
			t.Setenv("LANG", tt.lang)
			assert.Equal(t, tt.want, systemLocale())
		})
	}
}

func TestNewQueryContext(t *testing.T) {
	qc := NewQueryContext()
	assert.NotEmpty(t, qc.OSName)
	assert.NotEmpty(t, qc.SystemLocale)
	assert.NotEmpty(t, qc.Username)
	assert.False(t, qc.TimeNow.Time().IsZero())
}

func TestParseLiteralCall(t *testing.T) {
	call, ok := ParseLiteralCall(`  {"tool":"find_files","params":{"in_directory":"~"}} `)
	require.True(t, ok)
	assert.Equal(t, "find_files", call.Tool)
	assert.JSONEq(t, `{"in_directory":"~"}`, string(call.Params))

	for _, query := range []string{
		"find my logs",
		`{"tool":"find_files"}`,
		`{"tool":1,"params":{}}`,
		`{"tool":"find_files","params":[]}`,
		`["find_files",{}]`,
		`{"tool":"find_files","params":{}`,
	} {
		_, ok := ParseLiteralCall(query)
		assert.False(t, ok, query)
	}
}

func TestCode(t *testing.T) {
	toolErr := tools.NotFoundError("x")

	assert.Equal(t, "", Code(nil))
	assert.Equal(t, CodeCancelled, Code(ErrCancelled))
	assert.Equal(t, CodeDeriveToolCall, Code(fmt.Errorf("query: %w", ErrDeriveExhausted)))
	assert.Equal(t, tools.CodeNotFound, Code(fmt.Errorf("wrapped: %w", toolErr)))
	assert.Equal(t, CodeConfig, Code(fmt.Errorf("%w: bad", config.ErrInvalid)))
	assert.Equal(t, CodeInternal, Code(errors.New("other")))
}
