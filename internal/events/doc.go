// Package events carries the audit trail of the settlement engine. Every
// lifecycle transition (payment created/resolved, split created/deactivated,
// deposit received/distributed, administrative changes) is published as a
// structured event for dashboard and analytics ingestion. Transports: an
// in-process bus, a Redis list, and a RabbitMQ queue. Publishing is
// best-effort; settlement state commits regardless of transport failures.
package events
