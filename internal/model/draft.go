package model

// DocumentDraft is a title/body pair extracted from a finished assistant
// turn. It is never stored; downloads recompute it from the turn's text, so
// extraction must be deterministic.
type DocumentDraft struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ContactDraft is a CRM contact record extracted from a finished assistant
// turn. Name is mandatory; every other field is optional.
type ContactDraft struct {
	Name     string   `json:"name"`
	Email    string   `json:"email,omitempty"`
	Phone    string   `json:"phone,omitempty"`
	Company  string   `json:"company,omitempty"`
	Position string   `json:"position,omitempty"`
	Status   string   `json:"status,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}
