package protocol

import "time"

// AccessPolicy is the owner-chosen entry rule for a space.
type AccessPolicy string

const (
	PolicyPrivate AccessPolicy = "private"
	PolicyPublic  AccessPolicy = "public"
	PolicyToken   AccessPolicy = "token"
	PolicyFee     AccessPolicy = "fee"
	PolicyBoth    AccessPolicy = "both"
)

func (p AccessPolicy) Valid() bool {
	switch p {
	case PolicyPrivate, PolicyPublic, PolicyToken, PolicyFee, PolicyBoth:
		return true
	}
	return false
}

// Gated reports whether a denial under this policy has requirements the
// user could still satisfy (token balance, fee payment). Private denials
// have no action to offer.
func (p AccessPolicy) Gated() bool {
	switch p {
	case PolicyToken, PolicyFee, PolicyBoth:
		return true
	}
	return false
}

type RentalStatus string

const (
	RentalRented   RentalStatus = "rented"
	RentalReserved RentalStatus = "reserved"
	RentalVacant   RentalStatus = "vacant"
)

// TokenGate requires a minimum balance of a specific token to enter.
type TokenGate struct {
	TokenID        string  `json:"tokenId"`
	TokenSymbol    string  `json:"tokenSymbol,omitempty"`
	MinimumBalance float64 `json:"minimumBalance"`
}

// EntryFee requires a one-time payment to the owner to enter.
type EntryFee struct {
	Amount      float64 `json:"amount"`
	TokenID     string  `json:"tokenId,omitempty"`
	TokenSymbol string  `json:"tokenSymbol,omitempty"`
}

// Space is a rentable area. The server owns the authoritative copy; clients
// hold a read-mostly mirror replaced wholesale on list refresh or patched in
// place on a targeted update.
type Space struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	OwnerIdentity string       `json:"ownerIdentity,omitempty"`
	OwnerUsername string       `json:"ownerUsername,omitempty"`
	AccessPolicy  AccessPolicy `json:"accessPolicy"`
	TokenGate     *TokenGate   `json:"tokenGate,omitempty"`
	EntryFee      *EntryFee    `json:"entryFee,omitempty"`
	RentalStatus  RentalStatus `json:"rentalStatus,omitempty"`
	RentDueDate   *time.Time   `json:"rentDueDate,omitempty"`
}
