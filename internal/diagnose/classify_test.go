package diagnose

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-intake/internal/model"
)

const (
	primaryBase  = "https://services.leadconnectorhq.com"
	fallbackBase = "https://rest.gohighlevel.com"
)

func pt(status int) model.ProbeTest {
	return model.ProbeTest{Status: status, OK: status >= 200 && status < 300}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		tests       map[string]model.ProbeTest
		location    bool
		want        model.DiagnosisCode
		recommended string
		message     string
	}{
		{
			name: "primary passes",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(200), model.ProbePrimaryContacts: pt(200),
				model.ProbeFallbackLocations: pt(500), model.ProbeFallbackContacts: pt(500),
			},
			want:        model.DiagnosisAllPassedPrimary,
			recommended: primaryBase,
			message:     "All tests passed on PRIMARY endpoint (services.leadconnectorhq.com)",
		},
		{
			name: "fallback passes",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(200), model.ProbePrimaryContacts: pt(404),
				model.ProbeFallbackLocations: pt(200), model.ProbeFallbackContacts: pt(201),
			},
			want:        model.DiagnosisFallbackWorks,
			recommended: fallbackBase,
			message:     "Primary endpoint failed, but FALLBACK endpoint (rest.gohighlevel.com) works",
		},
		{
			name: "unauthorized on fallback locations",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(404), model.ProbePrimaryContacts: pt(404),
				model.ProbeFallbackLocations: pt(401), model.ProbeFallbackContacts: pt(401),
			},
			want:        model.DiagnosisUnauthorized,
			recommended: primaryBase,
		},
		{
			name: "unauthorized beats forbidden",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(401), model.ProbePrimaryContacts: pt(403),
			},
			want:        model.DiagnosisUnauthorized,
			recommended: primaryBase,
		},
		{
			name: "forbidden without location",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(200), model.ProbePrimaryContacts: pt(403),
				model.ProbeFallbackLocations: pt(404), model.ProbeFallbackContacts: pt(404),
			},
			want:        model.DiagnosisForbiddenWithoutLocation,
			recommended: primaryBase,
			message:     "Forbidden for contacts without Location-Id. Set GHL_LOCATION_ID secret for the target subaccount.",
		},
		{
			name: "forbidden with location",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(200), model.ProbePrimaryContacts: pt(403),
				model.ProbeFallbackLocations: pt(404), model.ProbeFallbackContacts: pt(403),
			},
			location:    true,
			want:        model.DiagnosisContactsFailedWithLocation,
			recommended: primaryBase,
		},
		{
			name: "contacts failed on primary only base",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(200), model.ProbePrimaryContacts: pt(422),
			},
			location:    true,
			want:        model.DiagnosisContactsFailedWithLocation,
			recommended: primaryBase,
		},
		{
			name: "transport failures everywhere",
			tests: map[string]model.ProbeTest{
				model.ProbePrimaryLocations: pt(0), model.ProbePrimaryContacts: pt(0),
				model.ProbeFallbackLocations: pt(0), model.ProbeFallbackContacts: pt(0),
			},
			want:        model.DiagnosisAllFailed,
			recommended: primaryBase,
			message:     "Both primary and fallback endpoints failed. Check API key validity and permissions.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &model.Diagnosis{Tests: tt.tests, LocationIDPresent: tt.location}
			Classify(d, primaryBase, fallbackBase)

			assert.Equal(t, tt.want, d.Code)
			assert.Equal(t, tt.recommended, d.RecommendedEndpoint)
			assert.NotEmpty(t, d.Diagnosis)
			if tt.message != "" {
				assert.Equal(t, tt.message, d.Diagnosis)
			}
		})
	}
}
