// Package monotonic provides the router's notion of "now".
//
// Envelope expiry is a u32 count of seconds since the Unix epoch, so the
// router needs a wall clock. Wall clocks jump when NTP corrects them or an
// operator changes the system time. Clock applies the offset measured by the
// sntp package and guarantees that Timestamp never goes backwards, so a
// message that was expired a moment ago can never become deliverable again.
//
// Usage:
//
//	clock := monotonic.NewClock()
//	if env.Expiry() <= clock.Timestamp() {
//	    // expired
//	}
//
// Tests substitute a ManualClock wherever a Timestamper is accepted.
package monotonic
