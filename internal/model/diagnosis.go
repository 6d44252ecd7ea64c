package model

import "time"

// DiagnosisCode is the machine-readable classification of a CRM probe run.
type DiagnosisCode string

const (
	DiagnosisAllPassedPrimary           DiagnosisCode = "all_passed_primary"
	DiagnosisFallbackWorks              DiagnosisCode = "fallback_works"
	DiagnosisUnauthorized               DiagnosisCode = "unauthorized"
	DiagnosisForbiddenWithoutLocation   DiagnosisCode = "forbidden_without_location"
	DiagnosisContactsFailedWithLocation DiagnosisCode = "contacts_failed_with_location"
	DiagnosisAllFailed                  DiagnosisCode = "all_failed"
)

// Probe names used as keys in Diagnosis.Tests.
const (
	ProbePrimaryLocations  = "primary_locations"
	ProbePrimaryContacts   = "primary_contacts"
	ProbeFallbackLocations = "fallback_locations"
	ProbeFallbackContacts  = "fallback_contacts"
)

// ProbeTest is the raw outcome of one read call against the CRM.
// Status is 0 when the request never produced an HTTP response.
type ProbeTest struct {
	URL    string `json:"url" yaml:"url"`
	Status int    `json:"status" yaml:"status"`
	OK     bool   `json:"ok" yaml:"ok"`
	Body   any    `json:"body,omitempty" yaml:"body,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Diagnosis summarizes whether the configured CRM credentials are usable.
type Diagnosis struct {
	OK                       bool                 `json:"ok" yaml:"ok"`
	Diagnosis                string               `json:"diagnosis" yaml:"diagnosis"`
	Code                     DiagnosisCode        `json:"code" yaml:"code"`
	RecommendedEndpoint      string               `json:"recommendedEndpoint,omitempty" yaml:"recommended_endpoint,omitempty"`
	APIKeyPresent            bool                 `json:"apiKey_present" yaml:"api_key_present"`
	APIKeyPrefix             string               `json:"apiKey_prefix" yaml:"api_key_prefix"`
	APIKeyLength             int                  `json:"apiKey_length" yaml:"api_key_length"`
	LocationIDPresent        bool                 `json:"location_id_present" yaml:"location_id_present"`
	LocationIDLooksLikeToken bool                 `json:"location_id_looks_like_pit" yaml:"location_id_looks_like_pit"`
	Tests                    map[string]ProbeTest `json:"tests" yaml:"tests"`
	CheckedAt                time.Time            `json:"checked_at" yaml:"checked_at"`
}

// Forbidden reports whether the contacts probe was refused with 403 for lack
// of a Location-Id.
func (d *Diagnosis) Forbidden() bool {
	return d.Code == DiagnosisForbiddenWithoutLocation
}
