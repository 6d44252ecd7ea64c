package diagnose

import (
	"fmt"
	"net/http"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/pkg/ghl"
)

// Classify sets Code, Diagnosis and RecommendedEndpoint on d from its probe
// results. Rules are evaluated in order and the first match wins. Probes
// missing from d.Tests were not attempted and never match.
func Classify(d *model.Diagnosis, primaryBase, fallbackBase string) {
	pl, hasPL := d.Tests[model.ProbePrimaryLocations]
	pc, hasPC := d.Tests[model.ProbePrimaryContacts]
	fl, hasFL := d.Tests[model.ProbeFallbackLocations]
	fc, hasFC := d.Tests[model.ProbeFallbackContacts]

	d.RecommendedEndpoint = primaryBase

	switch {
	case hasPL && hasPC && pl.OK && pc.OK:
		d.Code = model.DiagnosisAllPassedPrimary
		d.Diagnosis = fmt.Sprintf("All tests passed on PRIMARY endpoint (%s)", ghl.HostOf(primaryBase))

	case hasFL && hasFC && fl.OK && fc.OK:
		d.Code = model.DiagnosisFallbackWorks
		d.Diagnosis = fmt.Sprintf("Primary endpoint failed, but FALLBACK endpoint (%s) works", ghl.HostOf(fallbackBase))
		d.RecommendedEndpoint = fallbackBase

	case (hasPL && pl.Status == http.StatusUnauthorized) || (hasFL && fl.Status == http.StatusUnauthorized):
		d.Code = model.DiagnosisUnauthorized
		d.Diagnosis = "Unauthorized with GHL API. Verify the token value, ensure it is a Private Integration Token (pit-...), and that it has required scopes."

	case ((hasPC && pc.Status == http.StatusForbidden) || (hasFC && fc.Status == http.StatusForbidden)) && !d.LocationIDPresent:
		d.Code = model.DiagnosisForbiddenWithoutLocation
		d.Diagnosis = "Forbidden for contacts without Location-Id. Set GHL_LOCATION_ID secret for the target subaccount."

	case contactsFailedEverywhere(pc, hasPC, fc, hasFC) && d.LocationIDPresent:
		d.Code = model.DiagnosisContactsFailedWithLocation
		d.Diagnosis = "Contacts endpoint failed on BOTH endpoints even with Location-Id. Check that the Location-Id belongs to the token's account and that scopes include contacts:write/read."

	default:
		d.Code = model.DiagnosisAllFailed
		d.Diagnosis = "Both primary and fallback endpoints failed. Check API key validity and permissions."
	}
}

func contactsFailedEverywhere(pc model.ProbeTest, hasPC bool, fc model.ProbeTest, hasFC bool) bool {
	if !hasPC && !hasFC {
		return false
	}
	return (!hasPC || !pc.OK) && (!hasFC || !fc.OK)
}
