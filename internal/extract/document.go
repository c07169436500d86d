// Package extract implements best-effort structured extraction from
// finished assistant replies. Both extractors are ordered fallback chains:
// an explicit list of total strategy functions tried in fixed order, first
// success wins. They never fail; absence of usable content yields none.
package extract

import (
	"regexp"
	"strings"

	"github.com/finsight-ai/assistant-platform/internal/model"
)

// fallbackTitle is used when the reply carries exportable content but no
// recognizable title.
const fallbackTitle = "Document"

// docStrategy either fully succeeds or is skipped; no partial application.
type docStrategy func(text string) (model.DocumentDraft, bool)

var docStrategies = []docStrategy{
	documentFromTaggedFence,
	documentFromLeadingHeading,
	documentFromPlainText,
}

var documentFenceRe = regexp.MustCompile("(?s)```document[ \t]*\n(.*?)```")

// ExtractDocument derives a document draft from a finished reply. The
// result depends only on the input text, so repeated calls for the same
// turn always agree.
func ExtractDocument(text string) (model.DocumentDraft, bool) {
	for _, strategy := range docStrategies {
		if draft, ok := strategy(text); ok {
			return draft, true
		}
	}
	return model.DocumentDraft{}, false
}

// documentFromTaggedFence handles a fenced block tagged as document
// content. The first non-empty line inside the fence must be a title line,
// either "Title: ..." or a markdown heading; otherwise the whole strategy
// is skipped.
func documentFromTaggedFence(text string) (model.DocumentDraft, bool) {
	m := documentFenceRe.FindStringSubmatch(text)
	if m == nil {
		return model.DocumentDraft{}, false
	}

	inner := strings.TrimSpace(m[1])
	title, body, ok := splitTitleLine(inner)
	if !ok {
		return model.DocumentDraft{}, false
	}
	return model.DocumentDraft{Title: title, Body: body}, true
}

// documentFromLeadingHeading takes a leading # or ## heading as the title
// and the remaining text as the body.
func documentFromLeadingHeading(text string) (model.DocumentDraft, bool) {
	trimmed := strings.TrimSpace(text)
	line, rest, _ := strings.Cut(trimmed, "\n")

	title, ok := headingText(line)
	if !ok {
		return model.DocumentDraft{}, false
	}

	body := strings.TrimSpace(rest)
	if body == "" {
		return model.DocumentDraft{}, false
	}
	return model.DocumentDraft{Title: title, Body: body}, true
}

// documentFromPlainText wraps the whole text as the body under a generic
// title. Only blank input falls through to none.
func documentFromPlainText(text string) (model.DocumentDraft, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return model.DocumentDraft{}, false
	}
	return model.DocumentDraft{Title: fallbackTitle, Body: trimmed}, true
}

// splitTitleLine extracts a title from the first non-empty line of a tagged
// block and returns the remainder as body.
func splitTitleLine(inner string) (title, body string, ok bool) {
	line, rest, _ := strings.Cut(inner, "\n")
	line = strings.TrimSpace(line)

	if after, found := strings.CutPrefix(line, "Title:"); found {
		title = strings.TrimSpace(after)
	} else if h, found := headingText(line); found {
		title = h
	}

	if title == "" {
		return "", "", false
	}
	return title, strings.TrimSpace(rest), true
}

// headingText returns the text of a level-1 or level-2 markdown heading.
func headingText(line string) (string, bool) {
	line = strings.TrimSpace(line)
	for _, prefix := range []string{"## ", "# "} {
		if after, found := strings.CutPrefix(line, prefix); found {
			title := strings.TrimSpace(after)
			if title != "" {
				return title, true
			}
		}
	}
	return "", false
}
