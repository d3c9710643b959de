package sntp

import (
	"errors"
	"time"

	"github.com/beevik/ntp"
	"github.com/go-i2p/go-msgrouter/lib/util/time/skew"
	"github.com/samber/oops"
)

var ErrInvalidResponse = errors.New("invalid NTP response")

const (
	maxRTT            = 2 * time.Second // Max acceptable round-trip time
	maxRootDispersion = 1 * time.Second
	maxRootDelay      = 1 * time.Second
)

// validateResponse checks leap indicator, stratum, timing, time value and
// root metrics of an answer.
func validateResponse(r *ntp.Response) error {
	if r == nil {
		return oops.Wrapf(ErrInvalidResponse, "nil response")
	}
	if r.Leap == ntp.LeapNotInSync {
		return oops.Wrapf(ErrInvalidResponse, "server clock not synchronized")
	}
	if r.Stratum == 0 || r.Stratum > 15 {
		return oops.Wrapf(ErrInvalidResponse, "stratum %d out of range", r.Stratum)
	}
	if r.RTT < 0 || r.RTT > maxRTT {
		return oops.Wrapf(ErrInvalidResponse, "round-trip delay %v out of bounds", r.RTT)
	}
	if err := skew.ValidateOffset(r.ClockOffset, skew.MaxClockSkew); err != nil {
		return oops.Wrapf(ErrInvalidResponse, "%v", err)
	}
	if r.Time.IsZero() {
		return oops.Wrapf(ErrInvalidResponse, "zero time")
	}
	if r.RootDispersion > maxRootDispersion {
		return oops.Wrapf(ErrInvalidResponse, "root dispersion %v too high", r.RootDispersion)
	}
	if r.RootDelay > maxRootDelay {
		return oops.Wrapf(ErrInvalidResponse, "root delay %v too high", r.RootDelay)
	}
	return nil
}
