// Package api exposes the settlement engine over REST: escrow payment
// lifecycle, split registration and distribution, trust-gate queries, and
// the administrative surface. Caller identity arrives in the
// X-Caller-Address header, injected by the authenticating gateway.
package api
