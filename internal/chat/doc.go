// Package chat defines the data model shared by the inbox engine: conversations,
// messages, connection requests, the channel event contract and the error
// taxonomy.
//
// # Wire contract
//
// Channel events travel as a JSON envelope:
//
//	{"type": "messageReceived", "payload": {"id": "m1", "conversationId": "c1", ...}}
//
// The four event names and their payload field names must match the server
// exactly:
//
//   - presenceUpdate{onlineUserIds}
//   - messageReceived{Message}
//   - connectionRequestReceived{request, initiatorName}
//   - connectionRequestResolved{request, accepterName}
//
// # Request lifecycle
//
// A ConnectionRequest starts PENDING and moves once, to ACCEPTED or
// REJECTED. RequestStatus.Transition enforces this.
package chat
