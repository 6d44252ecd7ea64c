package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/lead-intake/internal/model"
)

func TestFormatLeadsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 15, 0, 0, time.UTC)
	sentAt := now.Add(time.Second)
	leads := []model.Lead{
		{
			ID:            "abc12345-6789-0000-0000-000000000000",
			FirstName:     "Dana",
			LastName:      "Reyes",
			Timeline:      "asap",
			CreatedAt:     now,
			WebhookSent:   true,
			WebhookSentAt: &sentAt,
			GHLSent:       true,
			GHLSentAt:     &sentAt,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			FirstName: "Sam",
			LastName:  "Ortiz",
			Timeline:  "3-6 months",
			CreatedAt: now.Add(-time.Hour),
			GHLSentAt: &sentAt,
			GHLError:  "Exception: timeout",
		},
	}

	var buf bytes.Buffer
	formatLeadsList(&buf, leads)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "SALESFORCE")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "Dana Reyes")
	assert.Contains(t, output, "2026-03-10 09:15")
	assert.Contains(t, output, "sent")
	assert.Contains(t, output, "failed")
}

func TestDeliveryStatus(t *testing.T) {
	at := time.Now()
	assert.Equal(t, "sent", deliveryStatus(true, &at))
	assert.Equal(t, "failed", deliveryStatus(false, &at))
	assert.Equal(t, "-", deliveryStatus(false, nil))
}

func TestFormatResendResults(t *testing.T) {
	var buf bytes.Buffer
	failed := formatResendResults(&buf, map[string]error{
		"webhook": nil,
		"ghl":     errors.New("ghl: status 403"),
	})

	assert.Equal(t, 1, failed)
	out := buf.String()
	assert.Contains(t, out, "webhook:")
	assert.Contains(t, out, "ghl:")
	assert.Contains(t, out, "status 403")
	// Sorted by name.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("ghl:")), bytes.Index(buf.Bytes(), []byte("webhook:")))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
