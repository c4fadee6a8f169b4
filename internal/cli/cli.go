// Package cli is the headless monitor: a progress line while a run is going
// and plain text reports when it is done.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"mqttwrk/internal/round"
	"mqttwrk/internal/runner"
	"mqttwrk/internal/stats"
	"mqttwrk/internal/storage"
)

const rule = "======================================================================\n"

// Monitor redraws a progress line from snapshots until the final snapshot
// arrives, done is closed or ctx is done.
func Monitor(ctx context.Context, w io.Writer, updates stats.UpdateChan, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var last stats.Snapshot
	seen := false
	for {
		select {
		case s := <-updates:
			last, seen = s, true
			if s.Done {
				fmt.Fprintf(w, "\r%s\n", progressLine(last))
				return
			}
		case <-ticker.C:
			if seen {
				fmt.Fprintf(w, "\r%s", progressLine(last))
			}
		case <-done:
			if seen {
				fmt.Fprintf(w, "\r%s\n", progressLine(last))
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func progressLine(s stats.Snapshot) string {
	pct := 0.0
	switch {
	case s.ExpectedMessages > 0:
		pct = float64(s.Confirmed) / float64(s.ExpectedMessages)
	case s.ExpectedSessions > 0:
		pct = float64(s.Sessions) / float64(s.ExpectedSessions)
	}
	if pct > 1.0 {
		pct = 1.0
	}
	rate := 0.0
	if sec := s.Elapsed.Seconds(); sec > 0 {
		rate = float64(s.Confirmed) / sec
	}
	return fmt.Sprintf("%s %3.0f%% | %s | Confirmed: %d/%d | Rate: %.1f/s | Sessions: %d/%d | Reconnects: %d",
		progressBar(pct, 20), pct*100,
		s.Elapsed.Round(time.Second),
		s.Confirmed, s.ExpectedMessages,
		rate,
		s.Sessions, s.ExpectedSessions,
		s.Reconnects,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func PrintHeader(w io.Writer, mode string, cfg *runner.Config) {
	fmt.Fprintf(w, "\n🚀 STARTING MQTTWRK %s\n", strings.ToUpper(mode))
	fmt.Fprint(w, rule)
	fmt.Fprintf(w, "Broker      : %s:%d (tls: %t)\n", cfg.Host, cfg.Port, cfg.TLS != nil)
	fmt.Fprintf(w, "Run ID      : %s\n", cfg.RunID)
	fmt.Fprintf(w, "Pub / Sub   : %d / %d\n", cfg.Publishers, cfg.Subscribers)
	fmt.Fprintf(w, "QoS pub/sub : %d / %d\n", cfg.PublishQoS, cfg.SubscribeQoS)
	fmt.Fprintf(w, "Count       : %d per publisher\n", cfg.Count)
	fmt.Fprintf(w, "Inflight    : %d\n", cfg.MaxInflight)
	fmt.Fprintf(w, "Topic       : %s\n", cfg.TopicFormat)
	for _, it := range cfg.Items {
		rate := "unthrottled"
		if it.Delay > 0 {
			rate = fmt.Sprintf("%.0f Hz", float64(time.Second)/float64(it.Delay))
		}
		fmt.Fprintf(w, "Item        : %s (%s)\n", it.Kind, rate)
	}
	fmt.Fprint(w, rule+"\n")
}

// PrintReport prints the aggregate of a bench or simulator run.
func PrintReport(w io.Writer, r *stats.Report, cfg *runner.Config) {
	expectedPub := cfg.ExpectedAcks()
	expectedIn := cfg.ExpectedIncoming()

	fmt.Fprintf(w, "\n📊 RESULTS\n")
	fmt.Fprint(w, rule)
	fmt.Fprintf(w, "Total Duration   : %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Sessions         : %d/%d (publishers %d, subscribers %d, dropped %d)\n",
		r.Sessions, r.ExpectedSessions, r.Publishers, r.Subscribers, r.Withdrawn)
	fmt.Fprintf(w, "Outgoing Publish : %d/%d\n", r.OutgoingPublish, expectedPub)
	fmt.Fprintf(w, "Incoming Publish : %d/%d\n", r.PublishCount, expectedIn)
	fmt.Fprintf(w, "PubAcks          : %d\n", r.AckCount)
	fmt.Fprintf(w, "Reconnects       : %d\n", r.Reconnects)
	if r.Unsolicited > 0 {
		fmt.Fprintf(w, "Unsolicited Acks : %d\n", r.Unsolicited)
	}
	if r.OutgoingPublish < expectedPub {
		fmt.Fprintf(w, "⚠️  %d publishes not confirmed\n", expectedPub-r.OutgoingPublish)
	}
	if r.PublishCount < expectedIn {
		fmt.Fprintf(w, "⚠️  %d publishes not received\n", expectedIn-r.PublishCount)
	}
	if sec := r.Elapsed.Seconds(); sec > 0 {
		fmt.Fprintf(w, "Throughput       : %.1f msg/s out, %.1f msg/s in\n",
			float64(r.OutgoingPublish)/sec, float64(r.PublishCount)/sec)
	}

	if r.Latency.Count() > 0 {
		fmt.Fprintf(w, "\n⏱️  PUBLISH LATENCY\n")
		printPercentiles(w, r.Latency.Percentiles())
	}
	if r.Arrival.Count() > 0 {
		fmt.Fprintf(w, "\n⏱️  SUBSCRIBER INTER-ARRIVAL\n")
		printPercentiles(w, r.Arrival.Percentiles())
	}
	fmt.Fprint(w, rule)
}

func printPercentiles(w io.Writer, p stats.Percentiles) {
	fmt.Fprintf(w, "   P50     : %s\n", p.P50)
	fmt.Fprintf(w, "   P90     : %s\n", p.P90)
	fmt.Fprintf(w, "   P99.99  : %s\n", p.P9999)
	fmt.Fprintf(w, "   P99.999 : %s\n", p.P99999)
	fmt.Fprintf(w, "   Max     : %s\n", p.Max)
	fmt.Fprintf(w, "   Samples : %d\n", p.Count)
}

// PrintSessions prints one block per session of the given role.
func PrintSessions(w io.Writer, sessions []*stats.SessionStats, role stats.Role) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "\n%s\tmsgs\tmsg/s\treconnects\tp100\tp99.9999\tp99.999\tp90\tp50\n", strings.ToUpper(role.String()))
	for _, s := range sessions {
		if s.Role != role {
			continue
		}
		h := s.Latency
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%d\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Messages(), s.Throughput(), s.Reconnects,
			h.Max(), h.Quantile(99.9999), h.Quantile(99.999), h.Quantile(90), h.Quantile(50))
	}
	tw.Flush()
}

func PrintRoundHeader(w io.Writer, cfg *round.Config) {
	fmt.Fprintf(w, "\n🚀 STARTING MQTTWRK ROUNDS\n")
	fmt.Fprint(w, rule)
	fmt.Fprintf(w, "Broker      : %s:%d (tls: %t)\n", cfg.Host, cfg.Port, cfg.TLS != nil)
	fmt.Fprintf(w, "Connections : %v\n", cfg.Steps())
	fmt.Fprintf(w, "In flight   : %d\n", cfg.InFlight)
	fmt.Fprintf(w, "Payload     : %d bytes\n", cfg.PayloadSize)
	fmt.Fprintf(w, "Duration    : %s per round\n", cfg.Duration)
	if cfg.Count > 0 {
		fmt.Fprintf(w, "Budget      : %d messages per connection\n", cfg.Count)
	}
	fmt.Fprint(w, rule+"\n")
}

// PrintRound prints one finished round.
func PrintRound(w io.Writer, r round.Result) {
	fmt.Fprintf(w, "Round %2d | %4d connections | %10.1f msg/s | %9.1f msg/s per connection",
		r.Round, r.Connections, r.Throughput, r.PerConnection)
	if r.Latency != nil && r.Latency.Count() > 0 {
		fmt.Fprintf(w, " | p50 %s | p99.99 %s", r.Latency.Quantile(50), r.Latency.Quantile(99.99))
	}
	if r.Failed > 0 {
		fmt.Fprintf(w, " | %d failed", r.Failed)
	}
	fmt.Fprintln(w)
}

// PrintRounds prints the round history table.
func PrintRounds(w io.Writer, records []storage.Record) {
	fmt.Fprintf(w, "\n📊 ROUNDS\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "round\tconnections\tsent\treceived\tmsg/s\tmsg/s/conn\telapsed\tfailed\t")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.1f\t%.1f\t%s\t%d\t\n",
			r.Seq, r.Connections, r.Sent, r.Received, r.Throughput, r.PerConnection,
			r.Elapsed.Round(time.Millisecond), r.Failed)
	}
	tw.Flush()
}
