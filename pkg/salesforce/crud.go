package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// LeadObject is the sObject name for web-to-lead records.
const LeadObject = "Lead"

// CreateLead creates a Lead record and returns the new Salesforce ID.
// Salesforce requires LastName and Company on every Lead.
func CreateLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	for _, req := range []string{"LastName", "Company"} {
		if v, _ := fields[req].(string); v == "" {
			return "", eris.New(fmt.Sprintf("sf: lead %s is required", req))
		}
	}
	id, err := c.InsertOne(ctx, LeadObject, fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// UpdateLead overwrites fields on an existing Lead record.
func UpdateLead(ctx context.Context, c Client, leadID string, fields map[string]any) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, LeadObject, leadID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update lead %s", leadID))
	}
	return nil
}
