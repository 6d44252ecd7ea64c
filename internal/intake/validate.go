package intake

import (
	"strings"

	"github.com/sells-group/lead-intake/internal/model"
)

// Validate checks that every required field is present. Only address, phone,
// first name, last name and email are required; everything else is optional
// and accepted as sent.
func Validate(sub model.Submission) error {
	required := []struct {
		name  string
		value string
	}{
		{"address", sub.Address},
		{"phone", sub.Phone},
		{"first_name", sub.FirstName},
		{"last_name", sub.LastName},
		{"email", sub.Email},
	}

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
