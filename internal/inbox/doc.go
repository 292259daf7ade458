// Package inbox is the client engine of the messaging inbox.
//
// A Client owns one identity at a time. All state (sidebar, open session,
// presence, connection requests) is mutated on a single event loop, so a
// push, a user action and an API completion never race each other. Results
// that arrive after the identity changed, or for a session that is no longer
// open, are dropped.
package inbox
