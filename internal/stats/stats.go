package stats

import (
	"time"
)

// Role tells publisher and subscriber sessions apart in reports.
type Role int

const (
	Publisher Role = iota
	Subscriber
)

func (r Role) String() string {
	if r == Subscriber {
		return "subscriber"
	}
	return "publisher"
}

// SessionStats is the final tally of one session. It is built by the session's
// own goroutine and handed to the Aggregator when the session ends; the
// session must not touch it afterwards.
type SessionStats struct {
	ID   string
	Role Role

	// OutgoingPublish counts publishes the session dispatched and saw confirmed
	// (or dispatched at all for QoS 0).
	OutgoingPublish uint64
	// PublishCount counts incoming publishes.
	PublishCount uint64
	// AckCount counts PubAcks received by publishers and sent by subscribers.
	AckCount    uint64
	Reconnects  uint64
	Unsolicited uint64

	Elapsed time.Duration

	// Latency holds publish-to-ack latency for publishers and the gap between
	// consecutive incoming publishes for subscribers.
	Latency *Histogram
}

func NewSessionStats(id string, role Role) *SessionStats {
	return &SessionStats{ID: id, Role: role, Latency: NewHistogram()}
}

// Messages is the count the session's throughput is measured on.
func (s *SessionStats) Messages() uint64 {
	if s.Role == Subscriber {
		return s.PublishCount
	}
	return s.OutgoingPublish
}

// Throughput returns messages per second over the elapsed time.
func (s *SessionStats) Throughput() float64 {
	ms := s.Elapsed.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return float64(s.Messages()) * 1000 / float64(ms)
}
