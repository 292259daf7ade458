// Package auth authenticates inbox users on the push channel.
//
// Users present an HS256 channel token whose "sub" claim is their user ID.
// Tokens are signed with the configured jwt_secret, issued by "coven-inbox"
// for the "coven-inbox/channel" audience, and always carry an expiry.
//
// The HTTP middleware accepts the token from the Authorization header or,
// for websocket clients that cannot set headers, from the "token" query
// parameter. The authenticated user is attached to the request context:
//
//	userID := auth.UserFromContext(r.Context())
package auth
