// Package notifier delivers short operator messages (release reports, plans,
// failures) to the owner chats through the transport adapter.
//
// Sends are throttled by a token bucket and a small in-memory history of
// recent notifications is kept for /status style inspection.
package notifier
