// Package conversation holds the active user's sidebar: every conversation
// they take part in, newest first.
//
// # Overview
//
// Store is the single owned container for conversation summaries. It is
// mutated through a closed set of operations:
//
//   - Replace: install a server listing (initial sync and resyncs)
//   - UpsertFromPush: apply a pushed message; a partner message bumps
//     unread, our own message or an open conversation resets it
//   - MarkRead: reset unread when a conversation is viewed
//   - ApplyLocalSend / ConfirmLocalSend / RevertLocalSend: the optimistic
//     send path used by the reconciler
//
// # Ordering
//
// Conversations are sorted by UpdatedAt descending. The sort is stable, so
// conversations with equal timestamps keep their previous relative order.
//
// # Unread Counts
//
// UnreadCount only grows for messages from the partner that arrive while
// the conversation is not open. Opening a conversation resets it to zero.
// TotalUnread sums every conversation.
//
// # Presence
//
// Partner.Online is never stored. It is filled in from the Presence
// collaborator each time a view is built, so a presence update is reflected
// without touching the store.
//
// # Concurrency
//
// Store is not safe for concurrent use. The inbox engine owns it and only
// touches it from its event loop.
package conversation
