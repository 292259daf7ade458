// Package channel implements the MessageChannel: the single push connection
// kept open for the active user identity.
//
// # Lifecycle
//
//	ch := channel.New(transport, channel.Options{}, logger)
//	id, _ := ch.On(chat.EventMessageReceived, handler)
//	_ = ch.Connect(ctx, userID)
//	...
//	ch.Disconnect() // waits for the pump, drops every subscription
//
// Only one channel may be open at a time. Changing identity means
// Disconnect, which runs to completion, followed by Connect.
//
// # Failures
//
// Transport errors never reach the caller of Connect. The pump retries with
// exponential backoff and Err reports chat.ErrChannelUnavailable until a
// stream is open again. Request/response calls are unaffected.
package channel
