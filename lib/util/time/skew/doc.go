// Package skew bounds clock corrections.
//
// An NTP answer that would move the router clock by more than MaxClockSkew
// is more likely a broken or hostile server than a real drift, so the
// sntp syncer refuses to apply it.
//
// Usage:
//
//	if err := skew.ValidateOffset(resp.ClockOffset, skew.MaxClockSkew); err != nil {
//	    // discard the sample
//	}
package skew
