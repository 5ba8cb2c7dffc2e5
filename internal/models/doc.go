// Package models defines the core domain models for SatSplit.
//
// # Models
//
//   - Receipt: the durable record of one split payment request
//   - Participant: one person's share of a receipt, with payment progress
//   - ExchangeRate: a fiat→sats rate snapshot used to price a receipt
//   - Relay: a network endpoint with read/write flags
//   - StoredKey: the user's signing key, held only in encrypted form
//   - AuditEntry: append-only log of every mutating operation
//   - Settings: persisted user preferences, including the relay list
//
// # Design Principles
//
// 1. **Amounts are integers**: all settlement amounts are int64 sats
// (base units). Fiat amounts appear only as the user-entered input; every
// derived amount is floored, never rounded up.
//
// 2. **Derived state is recomputed**: a Participant's payment status is a
// pure function of (ShareSats, PaidSats) and must be recomputed on every
// mutation, never stored independently.
//
// 3. **Avoid circular references**: models reference each other by ID
// strings, not pointers.
package models
