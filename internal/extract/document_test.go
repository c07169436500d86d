package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractDocumentTaggedFence(t *testing.T) {
	text := "Here is your report:\n\n```document\nTitle: Q3 Earnings Review\nRevenue grew 12% quarter over quarter.\nMargins held steady.\n```\n\nLet me know if you need changes."

	draft, ok := ExtractDocument(text)
	require.True(t, ok)
	assert.Equal(t, "Q3 Earnings Review", draft.Title)
	assert.Equal(t, "Revenue grew 12% quarter over quarter.\nMargins held steady.", draft.Body)
}

func TestExtractDocumentTaggedFenceHeadingTitle(t *testing.T) {
	text := "```document\n# Merger Proposal\nBackground and terms follow.\n```"

	draft, ok := ExtractDocument(text)
	require.True(t, ok)
	assert.Equal(t, "Merger Proposal", draft.Title)
	assert.Equal(t, "Background and terms follow.", draft.Body)
}

func TestExtractDocumentFenceWithoutTitleSkipsStrategy(t *testing.T) {
	// A tagged fence without a recognizable title line must not partially
	// apply; the text falls through to the next strategy wholesale.
	text := "```document\njust body text, no title line\n```"

	draft, ok := ExtractDocument(text)
	require.True(t, ok)
	assert.Equal(t, "Document", draft.Title)
}

func TestExtractDocumentLeadingHeading(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantTitle string
	}{
		{"h1", "# Compliance Memo\n\nThe new policy takes effect in Q4.", "Compliance Memo"},
		{"h2", "## Client Onboarding Checklist\nStep one: collect documents.", "Client Onboarding Checklist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft, ok := ExtractDocument(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.wantTitle, draft.Title)
			assert.NotEmpty(t, draft.Body)
		})
	}
}

func TestExtractDocumentFallbackPlainText(t *testing.T) {
	draft, ok := ExtractDocument("Just a plain answer with no structure at all.")
	require.True(t, ok)
	assert.Equal(t, "Document", draft.Title)
	assert.Equal(t, "Just a plain answer with no structure at all.", draft.Body)
}

func TestExtractDocumentBlankInputYieldsNone(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t\n"} {
		_, ok := ExtractDocument(text)
		assert.False(t, ok)
	}
}

func TestExtractDocumentIdempotent(t *testing.T) {
	texts := []string{
		"```document\nTitle: A\nbody\n```",
		"# Heading\nbody",
		"plain text",
	}
	for _, text := range texts {
		first, ok1 := ExtractDocument(text)
		second, ok2 := ExtractDocument(text)
		assert.Equal(t, ok1, ok2)
		assert.Equal(t, first, second)
	}
}
