package space

import (
	"sync"
	"time"
)

// EjectFunc is invoked with a reason code when occupancy ends involuntarily
// (revoked eligibility, owner kick, lost authentication).
type EjectFunc func(reason string)

// occupancySession owns the revalidation timer handles for one occupied
// space. Its goroutine only calls sendCheck and watches stop; every state
// transition stays with the monitor.
type occupancySession struct {
	spaceID string
	eject   EjectFunc

	stop     chan struct{}
	stopOnce sync.Once
}

// end stops the session's timers. Safe to call on every exit path.
func (s *occupancySession) end() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// OccupancyMonitor is the Outside/Inside state machine for the space the
// local identity currently occupies. At most one session exists; entering
// while inside another space implicitly exits it first.
//
// Owned by the Coordinator; not safe for concurrent use on its own. The
// session timer goroutine calls only sendCheck, which does its own locking.
type OccupancyMonitor struct {
	grace     time.Duration
	interval  time.Duration
	sendCheck func(spaceID string)

	session *occupancySession
}

func newOccupancyMonitor(grace, interval time.Duration, sendCheck func(string)) *OccupancyMonitor {
	return &OccupancyMonitor{grace: grace, interval: interval, sendCheck: sendCheck}
}

// Enter transitions to Inside(spaceID) and starts the grace-then-interval
// revalidation timers. A previous session ends silently (implicit exit).
func (m *OccupancyMonitor) Enter(spaceID string, eject EjectFunc) {
	m.endSession()
	sess := &occupancySession{spaceID: spaceID, eject: eject, stop: make(chan struct{})}
	m.session = sess
	go m.run(sess)
}

// Exit transitions to Outside and stops the timers. No eject callback runs.
func (m *OccupancyMonitor) Exit() { m.endSession() }

func (m *OccupancyMonitor) endSession() {
	if m.session != nil {
		m.session.end()
		m.session = nil
	}
}

// Inside reports the occupied space id, if any.
func (m *OccupancyMonitor) Inside() (string, bool) {
	if m.session == nil {
		return "", false
	}
	return m.session.spaceID, true
}

// take ends and removes the active session when it matches spaceID; an
// empty spaceID matches any session. The caller invokes the returned
// session's eject callback outside its own locks. Removal here, under the
// Coordinator's serialization, is what makes the callback at-most-once.
func (m *OccupancyMonitor) take(spaceID string) (*occupancySession, bool) {
	if m.session == nil {
		return nil, false
	}
	if spaceID != "" && m.session.spaceID != spaceID {
		return nil, false
	}
	sess := m.session
	sess.end()
	m.session = nil
	return sess, true
}

// run drives one session's revalidation: one check after the grace delay,
// then one per interval, until the session ends.
func (m *OccupancyMonitor) run(sess *occupancySession) {
	grace := time.NewTimer(m.grace)
	defer grace.Stop()
	select {
	case <-grace.C:
	case <-sess.stop:
		return
	}
	m.sendCheck(sess.spaceID)

	tick := time.NewTicker(m.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			m.sendCheck(sess.spaceID)
		case <-sess.stop:
			return
		}
	}
}
