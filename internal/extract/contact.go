package extract

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/finsight-ai/assistant-platform/internal/model"
)

// contactStrategy either yields a draft with a non-empty name or nothing.
// Parse failures are silent; the chain simply moves on.
type contactStrategy func(text string) (model.ContactDraft, bool)

var contactStrategies = []contactStrategy{
	contactFromFencedJSON,
	contactFromMarkerBlock,
	contactFromLabeledLines,
}

var (
	codeFenceRe = regexp.MustCompile("(?s)```(?:json|contact)?[ \t]*\n(.*?)```")
	markerRe    = regexp.MustCompile(`(?is)\[CONTACT\](.*?)\[/CONTACT\]`)

	// Per-field line patterns. Accepts plain "Name: x", bold "**Name**: x"
	// and "**Name:** x", and list-item prefixes.
	labelRes = map[string]*regexp.Regexp{
		"name":     labeledLineRe(`name`),
		"email":    labeledLineRe(`e-?mail`),
		"phone":    labeledLineRe(`phone`),
		"company":  labeledLineRe(`company`),
		"position": labeledLineRe(`position|title`),
		"status":   labeledLineRe(`status`),
		"priority": labeledLineRe(`priority`),
		"notes":    labeledLineRe(`notes?`),
		"tags":     labeledLineRe(`tags?`),
	}
)

func labeledLineRe(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^\s*(?:[-*•]\s*)?\*{0,2}(?:` + label + `)(?:\*{0,2}\s*:|\s*:\s*\*{0,2})\s*(.+)$`)
}

// ExtractContact derives a CRM contact draft from a finished reply. The
// chain is order-preserving: once a strategy succeeds, later ones are never
// attempted even if they would also match.
func ExtractContact(text string) (model.ContactDraft, bool) {
	for _, strategy := range contactStrategies {
		if draft, ok := strategy(text); ok {
			return draft, true
		}
	}
	return model.ContactDraft{}, false
}

// contactFromFencedJSON scans code-fenced blocks for a JSON object with a
// non-empty name field.
func contactFromFencedJSON(text string) (model.ContactDraft, bool) {
	for _, m := range codeFenceRe.FindAllStringSubmatch(text, -1) {
		if draft, ok := contactFromJSON(m[1]); ok {
			return draft, true
		}
	}
	return model.ContactDraft{}, false
}

// contactFromMarkerBlock looks for a sentinel-delimited JSON object, the
// form the assistant is prompted to emit when a fence would be rendered.
func contactFromMarkerBlock(text string) (model.ContactDraft, bool) {
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		if draft, ok := contactFromJSON(m[1]); ok {
			return draft, true
		}
	}
	return model.ContactDraft{}, false
}

// contactFromJSON parses one serialized object. Anything that is not a JSON
// object with a name falls through silently.
func contactFromJSON(raw string) (model.ContactDraft, bool) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return model.ContactDraft{}, false
	}
	obj := gjson.Parse(raw)
	if !obj.IsObject() {
		return model.ContactDraft{}, false
	}

	name := strings.TrimSpace(obj.Get("name").String())
	if name == "" {
		return model.ContactDraft{}, false
	}

	draft := model.ContactDraft{
		Name:     name,
		Email:    obj.Get("email").String(),
		Phone:    obj.Get("phone").String(),
		Company:  obj.Get("company").String(),
		Position: obj.Get("position").String(),
		Status:   obj.Get("status").String(),
		Priority: obj.Get("priority").String(),
		Notes:    obj.Get("notes").String(),
	}
	if draft.Position == "" {
		draft.Position = obj.Get("title").String()
	}
	for _, tag := range obj.Get("tags").Array() {
		if s := strings.TrimSpace(tag.String()); s != "" {
			draft.Tags = append(draft.Tags, s)
		}
	}
	return draft, true
}

// contactFromLabeledLines matches line-oriented "Label: value" pairs. Each
// field is matched independently; only Name is mandatory.
func contactFromLabeledLines(text string) (model.ContactDraft, bool) {
	name := labeledValue(text, "name")
	if name == "" {
		return model.ContactDraft{}, false
	}

	draft := model.ContactDraft{
		Name:     name,
		Email:    labeledValue(text, "email"),
		Phone:    labeledValue(text, "phone"),
		Company:  labeledValue(text, "company"),
		Position: labeledValue(text, "position"),
		Status:   strings.ToLower(labeledValue(text, "status")),
		Priority: strings.ToLower(labeledValue(text, "priority")),
		Notes:    labeledValue(text, "notes"),
	}
	if tags := labeledValue(text, "tags"); tags != "" {
		for _, tag := range strings.Split(tags, ",") {
			if s := strings.TrimSpace(tag); s != "" {
				draft.Tags = append(draft.Tags, s)
			}
		}
	}
	return draft, true
}

func labeledValue(text, field string) string {
	m := labelRes[field].FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	value := strings.TrimSpace(m[1])
	value = strings.Trim(value, "*")
	return strings.TrimSpace(value)
}
