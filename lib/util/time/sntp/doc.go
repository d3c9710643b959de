// Package sntp keeps the router clock close to network time.
//
// A Syncer queries a few NTP servers per round through an NTPClient, checks
// every answer, and hands the median offset to an OffsetListener such as
// monotonic.Clock. Rounds repeat at a configurable interval with random
// jitter, backing off while servers keep failing.
package sntp
