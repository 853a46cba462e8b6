/*
Package cash implements the fund ledger the escrow engine moves value
on. It maintains one wallet per address and guarantees that a transfer
either moves the full amount or nothing at all.

The ledger deals with a single fungible asset, expressed as a positive
amount of indivisible units.
*/
package cash
