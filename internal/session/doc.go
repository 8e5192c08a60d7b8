// Package session owns the access token of the signed-in user.
//
// A Manager holds the token, the identity it was issued to and its expiry,
// and keeps exactly one refresh timer armed while a token is present. The
// timer fires RefreshMargin before expiry and exchanges the refresh cookie
// for a new token; any refresh failure ends the session.
//
//	Unauthenticated -> PendingRefresh -> Refreshing -> PendingRefresh
//	                                               \-> Unauthenticated
package session
