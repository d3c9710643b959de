// Package router is the entry point for every inbound envelope.
//
// # Pipeline
//
// Submit takes raw bytes through a fixed sequence of checks:
//
//	Received -> Decoded -> Authenticated -> Queued | Dispatched
//
// Any step may end the envelope in Rejected instead:
//   - decode errors come from the envelope codec
//   - the expiry check runs directly after decoding, so an expired envelope
//     is rejected as Expired whatever else is wrong with it
//   - relay envelopes need a valid signature by their source and a valid MAC
//   - messages may be unsigned; the handler decides whether it accepts that
//   - relay envelopes are handed to the relay store, messages to the
//     handler registered for their protocol
//
// Rejections are terminal. Nothing is queued or dispatched for a rejected
// envelope.
//
// # Usage Example
//
//	reg := router.NewRegistry()
//	reg.Register(envelope.NewProtocol("chat", 1), router.HandlerFunc(
//	    func(ctx context.Context, d router.Delivery) error {
//	        return chat.Deliver(ctx, d.Src, d.Body)
//	    }))
//
//	r := router.New(verifier, store, reg, router.NewExpirationValidator(clock))
//	defer r.Close()
//
//	res, err := r.Submit(raw)
//	if err != nil {
//	    log.Printf("%s: %v", res.Reason, err)
//	}
package router
