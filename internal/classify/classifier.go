// Package classify assigns topical categories to assistant replies and
// detects document/CRM intents in user prompts. All functions are pure and
// total: they never fail and always return a value.
package classify

import (
	"strings"
	"unicode/utf8"

	"github.com/finsight-ai/assistant-platform/internal/model"
)

// categoryKeywords are checked in priority order: market, then compliance,
// then client. The first set with a hit wins; reordering changes results,
// so the order is fixed.
var categoryKeywords = []struct {
	category model.Category
	keywords []string
}{
	{model.CategoryMarket, []string{
		"stock", "market", "etf", "equity", "bond", "portfolio",
		"index", "trading", "yield", "dividend",
	}},
	{model.CategoryCompliance, []string{
		"regulation", "compliance", "kyc", "aml", "audit",
		"finra", "sec filing", "disclosure", "sanction",
	}},
	{model.CategoryClient, []string{
		"client", "customer", "prospect", "meeting", "follow-up",
		"onboarding", "account review",
	}},
}

// documentPhrases map intent phrases to the document type they imply.
// Matching is case-insensitive substring containment, nothing smarter.
var documentPhrases = []struct {
	phrase  string
	docType string
}{
	{"write a report", "report"},
	{"generate a report", "report"},
	{"create a report", "report"},
	{"draft a proposal", "proposal"},
	{"create a proposal", "proposal"},
	{"write a memo", "memo"},
	{"draft a memo", "memo"},
	{"prepare a summary", "summary"},
	{"write a summary", "summary"},
	{"create a presentation", "presentation"},
	{"draft a document", "document"},
	{"create a document", "document"},
	{"write a document", "document"},
	{"draft an email", "email"},
}

// crmPhrases trigger contact extraction on the finished reply.
var crmPhrases = []string{
	"add contact",
	"add a contact",
	"add a new contact",
	"create contact",
	"create a contact",
	"new contact",
	"new lead",
	"add lead",
	"add a lead",
	"create a lead",
	"save this contact",
	"save contact",
	"add to crm",
	"add them to crm",
	"add to the crm",
}

// Categorize assigns a topical category to text. First matching category in
// the fixed priority order wins; no keyword hit yields general.
func Categorize(text string) model.Category {
	lower := strings.ToLower(text)
	for _, set := range categoryKeywords {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.category
			}
		}
	}
	return model.CategoryGeneral
}

// DetectDocumentIntent reports whether the user's prompt asks for an
// exportable document, and which kind.
func DetectDocumentIntent(prompt string) (bool, string) {
	lower := strings.ToLower(prompt)
	for _, p := range documentPhrases {
		if strings.Contains(lower, p.phrase) {
			return true, p.docType
		}
	}
	return false, ""
}

// DetectCRMIntent reports whether the user's prompt asks for a CRM contact
// to be created.
func DetectCRMIntent(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, phrase := range crmPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsDocumentCandidate gates document extraction: the prompt must have asked
// for a document and the finished reply must exceed minChars, counted in
// runes. Short confirmations are never offered for export.
func IsDocumentCandidate(wantsDocument bool, finalText string, minChars int) bool {
	return wantsDocument && utf8.RuneCountInString(finalText) > minChars
}
