// Package bank moves value on behalf of the settlement engine. A transfer
// is addressed by a TransferTarget (native value or an external token
// contract) and executed through one primitive with two directions: Lock
// pulls value from a payer into the engine's escrow account, Pay moves a
// batch of payouts out of it. Pay is all-or-nothing: either every payout in
// the batch lands or none does, which is what lets a failed distribution
// leave no partial state behind.
package bank
