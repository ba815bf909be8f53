// Package trust implements the stateless policy layer that maps an agent's
// reputation tier to concrete financial terms: minimum-tier admission,
// collateral multipliers, interest-rate discounts, priority ordering, and
// per-tier trusted value ceilings. It owns no ledger state; every answer is
// a pure function of the externally supplied tier and rating.
package trust
