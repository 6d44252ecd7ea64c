package delivery

import (
	"errors"
	"fmt"

	"github.com/sells-group/lead-intake/internal/resilience"
)

// DeliveryError is returned when a forwarder could not hand a lead to its
// integration. It is recorded and logged, never surfaced to the submitter.
type DeliveryError struct {
	Target string
	LeadID string
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("delivery: %s lead %s: status %d: %v", e.Target, e.LeadID, e.Status, e.Err)
	}
	return fmt.Sprintf("delivery: %s lead %s: %v", e.Target, e.LeadID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned when a forwarder refuses to call its
// integration because the credentials are known to be wrong.
type ConfigurationError struct {
	Target string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("delivery: %s misconfigured: %s", e.Target, e.Reason)
}

// ShouldTrip decides whether a forwarder error counts against a circuit
// breaker. Transport failures and transient statuses trip; other client
// errors mean the request itself was rejected and do not.
func ShouldTrip(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return false
	}
	var sc resilience.StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return resilience.IsTransientHTTPStatus(sc.StatusCode())
	}
	return true
}
