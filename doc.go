/*
Package keep provides the primitive types shared by all packages of the
escrow engine: addresses, conditions that derive addresses, and a
second-precision time type together with the clock interface used for
deadline checks.

The actual state machine lives in x/escrow, the fund ledger in x/cash.
*/
package keep
