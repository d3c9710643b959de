package skew

import (
	"errors"
	"time"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// MaxClockSkew is the largest correction accepted from a time source.
const MaxClockSkew = 60 * time.Minute

var ErrClockSkew = errors.New("clock skew out of bounds")

// ValidateOffset checks that |offset| <= max. A non-positive max is rejected
// with an error.
func ValidateOffset(offset, max time.Duration) error {
	if max <= 0 {
		return oops.Errorf("clock skew: max must be positive, got %s", max)
	}
	if Abs(offset) > max {
		log.WithFields(logger.Fields{
			"at":     "skew.ValidateOffset",
			"offset": offset.String(),
			"max":    max.String(),
		}).Warn("Rejecting clock offset")
		return oops.Wrapf(ErrClockSkew, "offset %s exceeds %s", offset, max)
	}
	return nil
}

// IsOffsetValid is ValidateOffset against MaxClockSkew as a boolean.
func IsOffsetValid(offset time.Duration) bool {
	return ValidateOffset(offset, MaxClockSkew) == nil
}

// Abs returns |d|, saturating at the largest Duration.
func Abs(d time.Duration) time.Duration {
	if d >= 0 {
		return d
	}
	if d == -1<<63 {
		return 1<<63 - 1
	}
	return -d
}
