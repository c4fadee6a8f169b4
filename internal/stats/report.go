package stats

import "time"

// Report is the merge of every SessionStats of a run.
type Report struct {
	ExpectedSessions int
	ExpectedMessages uint64

	Sessions    int
	Publishers  int
	Subscribers int
	Withdrawn   int

	// Confirmed is the live progress count.
	Confirmed uint64

	OutgoingPublish uint64
	PublishCount    uint64
	AckCount        uint64
	Reconnects      uint64
	Unsolicited     uint64

	// Latency merges publisher ack latencies, Arrival merges subscriber
	// inter-arrival gaps.
	Latency *Histogram
	Arrival *Histogram

	Elapsed time.Duration

	// PerSession is only filled when the aggregator keeps sessions.
	PerSession []*SessionStats
}

// Complete reports whether every expected session delivered its stats.
func (r *Report) Complete() bool {
	return r.Sessions >= r.ExpectedSessions
}
