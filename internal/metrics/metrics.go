// Package metrics provides interfaces and implementations for collecting
// server metrics across both the POP3 and SMTP listeners. This package
// defines the Collector interface for recording metrics and the Server
// interface for exposing them.
package metrics

import "context"

// Collector defines the interface for recording POP3 server and SMTP
// delivery metrics.
type Collector interface {
	// Connection metrics
	ConnectionOpened()
	ConnectionClosed()
	TLSConnectionEstablished()

	// Authentication metrics (authenticated user's domain)
	AuthAttempt(authDomain string, success bool)

	// Command metrics
	CommandProcessed(command string)

	// Message retrieval metrics
	MessageRetrieved(userDomain string, sizeBytes int64)
	MessageDeleted(userDomain string)
	MessageListed(userDomain string)

	// SMTP delivery metrics
	MessageDelivered(mbox string)
	DeliveryFailed(mbox string)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
