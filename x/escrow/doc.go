/*
Package escrow implements an escrow.

> An escrow is a financial arrangement where a third party holds and
> regulates payment of the funds required for two parties involved in a
> given transaction. It helps make transactions more secure by keeping
> the payment in a secure escrow account which is only released when all
> of the terms of an agreement are met as overseen by the escrow company.

The engine holds funds in a vault per escrow.
The recipient can withdraw them until the deadline.
The initializer can cancel until the deadline, or reclaim them once the
deadline passed.
The arbiter can release or return them at any time, settling a dispute.

Every escrow reaches exactly one terminal state (Withdrawn, Refunded or
Cancelled) and can never leave it.
*/
package escrow
