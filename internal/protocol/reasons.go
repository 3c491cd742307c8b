package protocol

// Blocking/ejection reason codes. The server may introduce new ones; unknown
// reasons pass through to the UI verbatim, so this set is advisory.
const (
	// Denial verdicts.
	ReasonSpaceLocked      = "SPACE_LOCKED"
	ReasonTokenRequired    = "TOKEN_REQUIRED"
	ReasonEntryFeeRequired = "ENTRY_FEE_REQUIRED"
	ReasonRentOverdue      = "RENT_OVERDUE"

	// Revocation while occupying.
	ReasonTokenBalanceDropped = "TOKEN_BALANCE_DROPPED"
	ReasonKickedByOwner       = "KICKED_BY_OWNER"
	ReasonEligibilityRevoked  = "ELIGIBILITY_REVOKED"

	// Generated locally, never by the server.
	ReasonAuthLost = "AUTH_LOST"
)

var knownReasons = map[string]struct{}{
	ReasonSpaceLocked:         {},
	ReasonTokenRequired:       {},
	ReasonEntryFeeRequired:    {},
	ReasonRentOverdue:         {},
	ReasonTokenBalanceDropped: {},
	ReasonKickedByOwner:       {},
	ReasonEligibilityRevoked:  {},
	ReasonAuthLost:            {},
}

func IsKnownReason(reason string) bool {
	if reason == "" {
		return true
	}
	_, ok := knownReasons[reason]
	return ok
}
