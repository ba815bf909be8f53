// Package reputation exposes the externally computed trust tier and rating
// of marketplace agents. The settlement core never computes reputation; it
// only consumes the tier label and average rating that the upstream
// aggregator assigns, optionally through a Redis-backed read cache.
package reputation
