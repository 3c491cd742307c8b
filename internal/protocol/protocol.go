package protocol

import "encoding/json"

const Version = "1"

// Session layer message types.
const (
	TypeSessionHello   = "session_hello"
	TypeSessionWelcome = "session_welcome"
	TypeAuthStatus     = "auth_status"
)

// Space engine message types. Requests and their responses share a tag;
// space_updated and space_kicked are server-initiated broadcasts.
const (
	TypeSpaceList             = "space_list"
	TypeSpaceMyRentals        = "space_my_rentals"
	TypeSpaceCanEnter         = "space_can_enter"
	TypeSpaceEligibilityCheck = "space_eligibility_check"
	TypeSpaceUpdateSettings   = "space_update_settings"
	TypeSpaceSettingsResult   = "space_settings_result"
	TypeSpacePayRent          = "space_pay_rent"
	TypeSpacePayRentResult    = "space_pay_rent_result"
	TypeSpaceVisit            = "space_visit"
	TypeSpaceUpdated          = "space_updated"
	TypeSpaceKicked           = "space_kicked"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsSupportedVersion accepts the current version and, for forward
// compatibility, messages that carry no version at all (space messages are
// unversioned; only the session handshake negotiates).
func IsSupportedVersion(v string) bool {
	return v == "" || v == Version
}
