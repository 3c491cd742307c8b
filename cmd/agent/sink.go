package main

import (
	"fmt"
	"log"
	"time"

	"pixelcove.gg/internal/persistence/journal"
	"pixelcove.gg/internal/space"
)

// agentSink is the headless stand-in for the browser panels: transitions
// become log lines, and settings/rent outcomes land in the access journal
// next to the verdicts the coordinator hooks record.
type agentSink struct {
	log      *log.Logger
	journal  *journal.AccessLogger
	identity func() space.Identity
}

func newAgentSink(logger *log.Logger, accessLog *journal.AccessLogger, identity func() space.Identity) *agentSink {
	return &agentSink{log: logger, journal: accessLog, identity: identity}
}

func (s *agentSink) ShowRequirements(v space.Requirements) {
	line := fmt.Sprintf("requirements space=%s owner=%s", v.SpaceID, v.OwnerUsername)
	if v.TokenRequired {
		line += fmt.Sprintf(" token=%s min=%g met=%s", v.TokenSymbol, v.TokenMinimum, gateState(v.TokenMet))
	}
	if v.FeeRequired {
		line += fmt.Sprintf(" fee=%g%s paid=%s", v.FeeAmount, v.FeeSymbol, gateState(v.FeePaid))
	}
	if v.BlockingReason != "" {
		line += " reason=" + v.BlockingReason
	}
	s.log.Print(line)
}

func (s *agentSink) ShowLocked(spaceID, reason string) {
	s.log.Printf("locked space=%s reason=%s", spaceID, reason)
}

func (s *agentSink) SettingsSaved(spaceID string, ok bool, reason string) {
	s.log.Printf("settings space=%s ok=%v reason=%q", spaceID, ok, reason)
	s.write(journal.Entry{
		Kind:    journal.KindSettings,
		SpaceID: spaceID,
		Success: &ok,
		Reason:  reason,
	})
}

func (s *agentSink) RentPaid(spaceID string, ok bool, newDueDate time.Time, reason string) {
	detail := ""
	if ok && !newDueDate.IsZero() {
		detail = "due " + newDueDate.UTC().Format(time.RFC3339)
	}
	s.log.Printf("rent space=%s ok=%v due=%s reason=%q", spaceID, ok, detail, reason)
	s.write(journal.Entry{
		Kind:    journal.KindRent,
		SpaceID: spaceID,
		Success: &ok,
		Reason:  reason,
		Detail:  detail,
	})
}

func (s *agentSink) Toast(text string) {
	s.log.Printf("toast: %s", text)
}

func (s *agentSink) write(e journal.Entry) {
	e.Wallet = s.identity().Wallet
	if err := s.journal.Write(e); err != nil {
		s.log.Printf("journal %s: %v", e.Kind, err)
	}
}

func gateState(met *bool) string {
	switch {
	case met == nil:
		return "unknown"
	case *met:
		return "met"
	default:
		return "unmet"
	}
}
