package model

import (
	"encoding/json"
	"strings"
	"time"
)

// SourceWebsiteForm tags every payload that originates from the intake form.
const SourceWebsiteForm = "website_form"

// Submission is the raw form data posted by the website.
type Submission struct {
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	SMSConsent  bool   `json:"sms_consent"`
	IsListed    string `json:"is_listed"`
	Condition   string `json:"condition"`
	Timeline    string `json:"timeline"`
	AskingPrice string `json:"asking_price"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
}

// submissionWire accepts both the browser's camelCase keys and snake_case.
type submissionWire struct {
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	Condition   string `json:"condition"`
	Timeline    string `json:"timeline"`
	Email       string `json:"email"`
	SMSConsent  *bool  `json:"smsConsent"`
	IsListed    string `json:"isListed"`
	AskingPrice string `json:"askingPrice"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`

	SMSConsentSnake  *bool  `json:"sms_consent"`
	IsListedSnake    string `json:"is_listed"`
	AskingPriceSnake string `json:"asking_price"`
	FirstNameSnake   string `json:"first_name"`
	LastNameSnake    string `json:"last_name"`
}

// UnmarshalJSON decodes a submission, preferring camelCase keys when both
// spellings are present.
func (s *Submission) UnmarshalJSON(data []byte) error {
	var w submissionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = Submission{
		Address:     w.Address,
		Phone:       w.Phone,
		Condition:   w.Condition,
		Timeline:    w.Timeline,
		Email:       w.Email,
		IsListed:    firstNonEmpty(w.IsListed, w.IsListedSnake),
		AskingPrice: firstNonEmpty(w.AskingPrice, w.AskingPriceSnake),
		FirstName:   firstNonEmpty(w.FirstName, w.FirstNameSnake),
		LastName:    firstNonEmpty(w.LastName, w.LastNameSnake),
	}
	switch {
	case w.SMSConsent != nil:
		s.SMSConsent = *w.SMSConsent
	case w.SMSConsentSnake != nil:
		s.SMSConsent = *w.SMSConsentSnake
	}
	return nil
}

// Normalize returns a copy with surrounding whitespace removed from every
// text field.
func (s Submission) Normalize() Submission {
	s.Address = strings.TrimSpace(s.Address)
	s.Phone = strings.TrimSpace(s.Phone)
	s.IsListed = strings.TrimSpace(s.IsListed)
	s.Condition = strings.TrimSpace(s.Condition)
	s.Timeline = strings.TrimSpace(s.Timeline)
	s.AskingPrice = strings.TrimSpace(s.AskingPrice)
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	s.Email = strings.TrimSpace(s.Email)
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Lead is a persisted submission plus the delivery status written by the
// forwarders after the intake response has been sent.
type Lead struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Phone       string `json:"phone"`
	SMSConsent  bool   `json:"sms_consent"`
	IsListed    string `json:"is_listed"`
	Condition   string `json:"condition"`
	Timeline    string `json:"timeline"`
	AskingPrice string `json:"asking_price"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`

	WebhookSent   bool       `json:"webhook_sent"`
	WebhookSentAt *time.Time `json:"webhook_sent_at,omitempty"`

	GHLSent     bool       `json:"ghl_sent"`
	GHLSentAt   *time.Time `json:"ghl_sent_at,omitempty"`
	GHLError    string     `json:"ghl_error,omitempty"`
	GHLResponse string     `json:"ghl_response,omitempty"`

	SFSent   bool       `json:"sf_sent"`
	SFSentAt *time.Time `json:"sf_sent_at,omitempty"`
	SFLeadID string     `json:"sf_lead_id,omitempty"`
	SFError  string     `json:"sf_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLead copies a submission into an unsaved lead record.
func NewLead(id string, sub Submission, now time.Time) *Lead {
	return &Lead{
		ID:          id,
		Address:     sub.Address,
		Phone:       sub.Phone,
		SMSConsent:  sub.SMSConsent,
		IsListed:    sub.IsListed,
		Condition:   sub.Condition,
		Timeline:    sub.Timeline,
		AskingPrice: sub.AskingPrice,
		FirstName:   sub.FirstName,
		LastName:    sub.LastName,
		Email:       sub.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// FullName joins first and last name.
func (l *Lead) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// LeadUpdate is a partial write of delivery status. Nil fields are left
// untouched.
type LeadUpdate struct {
	WebhookSent   *bool
	WebhookSentAt *time.Time

	GHLSent     *bool
	GHLSentAt   *time.Time
	GHLError    *string
	GHLResponse *string

	SFSent   *bool
	SFSentAt *time.Time
	SFLeadID *string
	SFError  *string
}

// IsEmpty reports whether the update carries no fields.
func (u LeadUpdate) IsEmpty() bool {
	return u.WebhookSent == nil && u.WebhookSentAt == nil &&
		u.GHLSent == nil && u.GHLSentAt == nil && u.GHLError == nil && u.GHLResponse == nil &&
		u.SFSent == nil && u.SFSentAt == nil && u.SFLeadID == nil && u.SFError == nil
}

// Ptr returns a pointer to v. Used to build LeadUpdate literals.
func Ptr[T any](v T) *T {
	return &v
}

// LeadPayload is the normalized shape sent to the webhook verbatim and used
// as the source for CRM mappings.
type LeadPayload struct {
	LeadID    string       `json:"lead_id"`
	Timestamp time.Time    `json:"timestamp"`
	Property  PropertyInfo `json:"property"`
	Contact   ContactInfo  `json:"contact"`
	Source    string       `json:"source"`
}

// PropertyInfo groups the property answers of a lead.
type PropertyInfo struct {
	Address     string `json:"address"`
	Condition   string `json:"condition"`
	Timeline    string `json:"timeline"`
	AskingPrice string `json:"asking_price"`
	IsListed    bool   `json:"is_listed"`
}

// ContactInfo groups the seller's contact details.
type ContactInfo struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	SMSConsent bool   `json:"sms_consent"`
}

// NewLeadPayload builds the payload for a stored lead.
func NewLeadPayload(l Lead, now time.Time) LeadPayload {
	return LeadPayload{
		LeadID:    l.ID,
		Timestamp: now.UTC(),
		Property: PropertyInfo{
			Address:     l.Address,
			Condition:   l.Condition,
			Timeline:    l.Timeline,
			AskingPrice: l.AskingPrice,
			IsListed:    strings.EqualFold(l.IsListed, "yes"),
		},
		Contact: ContactInfo{
			FirstName:  l.FirstName,
			LastName:   l.LastName,
			FullName:   l.FirstName + " " + l.LastName,
			Email:      l.Email,
			Phone:      l.Phone,
			SMSConsent: l.SMSConsent,
		},
		Source: SourceWebsiteForm,
	}
}
