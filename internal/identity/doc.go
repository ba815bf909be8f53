// Package identity resolves agent ownership. Agent issuance lives in an
// external registry; the settlement core only asks two questions of it:
// does the agent exist, and which address owns it. Implementations cover an
// in-memory directory for tests and single-process deployments, and an
// EVM-backed directory that reads the on-chain agent registry contract.
package identity
