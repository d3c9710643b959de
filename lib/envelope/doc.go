// Package envelope implements the versioned wire envelopes exchanged by the
// router: the relay envelope (RelayMessage), carrying an encrypted payload
// for store-and-forward delivery, and the generic protocol envelope
// (Message), carrying a protocol-tagged body for direct delivery.
//
// Frame layout (integers are big endian):
//
//	+------+---------+-----------------------------------------+
//	| kind | version | version specific body                   |
//	+------+---------+-----------------------------------------+
//
//	kind    :: 1 byte, 0x01 relay, 0x02 message
//	version :: 1 byte, closed set per kind; unknown values are rejected
//
// Every version of both kinds starts its body with the routing prefix
//
//	src :: 32 bytes, dst :: 32 bytes, expiry :: 4 bytes (seconds)
//
// so PeekHeader can read the routing contract without touching payload
// fields.
//
// Relay V0 body:
//
//	src dst expiry | msg_len:4 msg | mac_len:2 mac | sig_len:2 sig
//
// Message V0 body:
//
//	src dst expiry | fam_len:1 family | proto_ver:2 | body_len:4 body |
//	sig_flag:1 [sig_len:2 sig]
//
// The signature covers the content fields, that is everything between the
// version byte and the signature part.
package envelope
