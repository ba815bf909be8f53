// Package ledger implements the value-conservation arithmetic shared by the
// escrow engine and the split distributor: overflow-checked addition and
// subtraction, protocol fee extraction, and basis-point proportional
// division. All amounts are unsigned integers of the smallest token unit.
package ledger
