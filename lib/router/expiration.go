package router

import (
	"errors"

	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/util/time/monotonic"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var ErrExpired = errors.New("envelope expired")

// ExpirationValidator decides whether an envelope's expiry has elapsed.
type ExpirationValidator struct {
	// toleranceSeconds allows for clock skew between peers. An envelope
	// that expired within this window is still accepted. Default is 0.
	toleranceSeconds uint32

	clock monotonic.Timestamper

	// enabled controls whether expiration checking is performed.
	enabled bool
}

// NewExpirationValidator creates an enabled validator with zero tolerance
// reading time from clock.
func NewExpirationValidator(clock monotonic.Timestamper) *ExpirationValidator {
	return &ExpirationValidator{clock: clock, enabled: true}
}

// WithTolerance sets the clock skew tolerance in seconds.
// Returns the validator for method chaining.
func (v *ExpirationValidator) WithTolerance(seconds uint32) *ExpirationValidator {
	v.toleranceSeconds = seconds
	return v
}

// Disable turns off expiration checking.
func (v *ExpirationValidator) Disable() *ExpirationValidator {
	v.enabled = false
	return v
}

// Enable turns on expiration checking.
func (v *ExpirationValidator) Enable() *ExpirationValidator {
	v.enabled = true
	return v
}

func (v *ExpirationValidator) IsEnabled() bool {
	return v.enabled
}

// Tolerance returns the configured tolerance in seconds.
func (v *ExpirationValidator) Tolerance() uint32 {
	return v.toleranceSeconds
}

// IsExpired reports whether expiry + tolerance <= now.
func (v *ExpirationValidator) IsExpired(expiry uint32) bool {
	if !v.enabled {
		return false
	}
	return uint64(expiry)+uint64(v.toleranceSeconds) <= uint64(v.clock.Timestamp())
}

// ValidateExpiration returns nil while expiry has not elapsed.
func (v *ExpirationValidator) ValidateExpiration(expiry uint32) error {
	if !v.enabled {
		return nil
	}
	now := v.clock.Timestamp()
	if uint64(expiry)+uint64(v.toleranceSeconds) <= uint64(now) {
		return oops.Wrapf(ErrExpired,
			"envelope expired %ds ago (expiry: %d, now: %d, tolerance: %ds)",
			int64(now)-int64(expiry), expiry, now, v.toleranceSeconds)
	}
	return nil
}

// ValidateEnvelope checks e's expiry and logs rejections.
func (v *ExpirationValidator) ValidateEnvelope(e envelope.Envelope) error {
	if err := v.ValidateExpiration(e.Expiry()); err != nil {
		log.WithFields(logger.Fields{
			"at":     "ExpirationValidator.ValidateEnvelope",
			"kind":   e.Kind().String(),
			"src":    e.Src().Short(),
			"dst":    e.Dst().Short(),
			"expiry": e.Expiry(),
		}).Debug("envelope expired")
		return err
	}
	return nil
}
