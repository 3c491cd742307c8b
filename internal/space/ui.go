package space

import "time"

// Requirements is what the requirements panel renders for a gated denial:
// which gates apply, their parameters, and which are already satisfied.
// TokenMet/FeePaid are nil when the server reported nothing for that gate.
type Requirements struct {
	SpaceID       string
	OwnerWallet   string
	OwnerUsername string

	TokenRequired bool
	TokenSymbol   string
	TokenAddress  string
	TokenMinimum  float64
	TokenMet      *bool

	FeeRequired bool
	FeeAmount   float64
	FeeSymbol   string
	FeeAddress  string
	FeePaid     *bool

	BlockingReason string
}

// UISink receives panel transitions and toast-style results. The browser
// shell renders them; headless runs log them. Denials and failures arrive
// here, never as errors.
type UISink interface {
	ShowRequirements(v Requirements)
	ShowLocked(spaceID, reason string)
	SettingsSaved(spaceID string, ok bool, reason string)
	RentPaid(spaceID string, ok bool, newDueDate time.Time, reason string)
	Toast(text string)
}

// NopUISink discards everything.
type NopUISink struct{}

func (NopUISink) ShowRequirements(Requirements)            {}
func (NopUISink) ShowLocked(string, string)                {}
func (NopUISink) SettingsSaved(string, bool, string)       {}
func (NopUISink) RentPaid(string, bool, time.Time, string) {}
func (NopUISink) Toast(string)                             {}
