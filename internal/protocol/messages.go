package protocol

import "time"

// session_hello (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	ClientName      string `json:"clientName,omitempty"`
	Wallet          string `json:"wallet,omitempty"`
	AuthToken       string `json:"authToken,omitempty"`
}

// session_welcome (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	SessionID       string `json:"sessionId"`
	Authenticated   bool   `json:"authenticated"`
	Wallet          string `json:"wallet,omitempty"`
	Username        string `json:"username,omitempty"`
}

// auth_status (server -> client): wallet connect/disconnect and token expiry
// transitions after the handshake.
type AuthStatusMsg struct {
	Type          string `json:"type"`
	Authenticated bool   `json:"authenticated"`
	Wallet        string `json:"wallet,omitempty"`
	Username      string `json:"username,omitempty"`
}

// space_list (client -> server)
type SpaceListReq struct {
	Type string `json:"type"`
}

// space_list (server -> client): full directory, replaces wholesale.
type SpaceListMsg struct {
	Type   string  `json:"type"`
	Spaces []Space `json:"spaces"`
}

// space_my_rentals (client -> server); requires an authenticated identity.
type MyRentalsReq struct {
	Type string `json:"type"`
}

// space_my_rentals (server -> client): the caller's owned/rented subset.
type MyRentalsMsg struct {
	Type   string  `json:"type"`
	Spaces []Space `json:"spaces"`
}

// space_can_enter (client -> server): entry check for one space.
type CanEnterReq struct {
	Type    string `json:"type"`
	SpaceID string `json:"spaceId"`
}

// space_can_enter (server -> client): the verdict. Denials still carry
// partial progress (tokenGateMet, entryFeePaid) so the UI can show which
// sub-requirement is already satisfied.
type CanEnterMsg struct {
	Type                 string  `json:"type"`
	SpaceID              string  `json:"spaceId"`
	CanEnter             bool    `json:"canEnter"`
	TokenGateMet         *bool   `json:"tokenGateMet,omitempty"`
	EntryFeePaid         *bool   `json:"entryFeePaid,omitempty"`
	IsOwner              bool    `json:"isOwner"`
	OwnerWallet          string  `json:"ownerWallet,omitempty"`
	OwnerUsername        string  `json:"ownerUsername,omitempty"`
	TokenGateRequired    float64 `json:"tokenGateRequired,omitempty"`
	TokenGateSymbol      string  `json:"tokenGateSymbol,omitempty"`
	TokenGateAddress     string  `json:"tokenGateAddress,omitempty"`
	EntryFeeAmount       float64 `json:"entryFeeAmount,omitempty"`
	EntryFeeSymbol       string  `json:"entryFeeSymbol,omitempty"`
	EntryFeeTokenAddress string  `json:"entryFeeTokenAddress,omitempty"`
	BlockingReason       string  `json:"blockingReason,omitempty"`
}

// space_eligibility_check (client -> server): periodic revalidation while
// occupying a space.
type EligibilityReq struct {
	Type    string `json:"type"`
	SpaceID string `json:"spaceId"`
}

// space_eligibility_check (server -> client). Carries no spaceId; the
// response applies to the space the session currently occupies.
type EligibilityMsg struct {
	Type     string `json:"type"`
	CanEnter bool   `json:"canEnter"`
	IsOwner  bool   `json:"isOwner"`
	Reason   string `json:"reason,omitempty"`
}

// SpaceSettings carries only the fields the owner is changing.
type SpaceSettings struct {
	Name         *string       `json:"name,omitempty"`
	AccessPolicy *AccessPolicy `json:"accessPolicy,omitempty"`
	TokenGate    *TokenGate    `json:"tokenGate,omitempty"`
	EntryFee     *EntryFee     `json:"entryFee,omitempty"`
}

// space_update_settings (client -> server); owner only.
type UpdateSettingsReq struct {
	Type     string        `json:"type"`
	SpaceID  string        `json:"spaceId"`
	Settings SpaceSettings `json:"settings"`
}

// space_settings_result (server -> client).
type SettingsResultMsg struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	SpaceID string `json:"spaceId,omitempty"`
	Space   *Space `json:"space,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// space_pay_rent (client -> server): the transaction is constructed and
// submitted elsewhere; only its signature rides here.
type PayRentReq struct {
	Type                 string `json:"type"`
	SpaceID              string `json:"spaceId"`
	TransactionSignature string `json:"transactionSignature"`
}

// space_pay_rent_result (server -> client).
type PayRentResultMsg struct {
	Type       string     `json:"type"`
	Success    bool       `json:"success"`
	SpaceID    string     `json:"spaceId,omitempty"`
	NewDueDate *time.Time `json:"newDueDate,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// space_visit (client -> server): fire-and-forget telemetry.
type VisitReq struct {
	Type    string `json:"type"`
	SpaceID string `json:"spaceId"`
}

// space_updated (server -> client broadcast): a space changed; any cached
// clearance for it is stale.
type SpaceUpdatedMsg struct {
	Type  string `json:"type"`
	Space Space  `json:"space"`
}

// space_kicked (server -> client broadcast): the owner removed the local
// identity from an occupied space.
type SpaceKickedMsg struct {
	Type    string `json:"type"`
	SpaceID string `json:"spaceId"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}
