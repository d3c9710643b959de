// Package transport carries envelopes over TCP.
//
// # Framing
//
// Every frame is a big-endian u32 length followed by that many bytes: a
// one byte frame type and its payload.
//
//	SUBMIT 0x01 <envelope>       client -> server
//	HELLO  0x02 <identity:32>    client -> server
//	RELAY  0x03 <envelope>       server -> client
//	STATUS 0x04 <reason:u8>      server -> client
//
// SUBMIT hands the envelope to the router and is answered with one STATUS
// frame carrying the router's rejection reason, 0 when accepted.
//
// HELLO drains the relay queue of the named identity: one RELAY frame per
// live envelope, oldest first, then STATUS 0. Envelopes that could not be
// written are put back into the store.
//
// # Limits
//
// A frame longer than the configured maximum closes the connection, as does
// an unknown frame type. Each connection is rate limited with a token
// bucket; frames beyond the rate wait for a token.
//
// # Usage Example
//
//	srv := transport.NewServer(r, store, transport.DefaultConfig())
//	if err := srv.Listen(); err != nil {
//	    return err
//	}
//	defer srv.Close()
//
//	c, err := transport.Dial(ctx, srv.Addr().String(), 0)
//	reason, err := c.Submit(raw)
package transport
