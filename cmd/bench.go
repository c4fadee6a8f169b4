package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mqttwrk/internal/cli"
	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/runner"
	"mqttwrk/internal/stats"
	"mqttwrk/internal/tui"
	"mqttwrk/internal/workload"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark a broker with fixed publishers and subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		items := []workload.Item{{
			Kind:        workload.Default,
			PayloadSize: viper.GetInt("payload-size"),
			Delay:       workload.DelayForRate(viper.GetInt("rate")),
		}}
		return runBench(cmd.Context(), "bench", items)
	},
}

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Benchmark a broker with synthetic IMU, BMS and GPS payloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		items := []workload.Item{
			{Kind: workload.IMU, Delay: workload.DelayForRate(viper.GetInt("imu-rate"))},
			{Kind: workload.BMS, Delay: workload.DelayForRate(viper.GetInt("bms-rate"))},
			{Kind: workload.GPS, Delay: workload.DelayForRate(viper.GetInt("gps-rate"))},
		}
		return runBench(cmd.Context(), "simulator", items)
	},
}

func init() {
	rootCmd.AddCommand(benchCmd, simulatorCmd)

	for _, c := range []*cobra.Command{benchCmd, simulatorCmd} {
		addNetworkFlags(c.Flags())
		addCommonFlags(c.Flags())
	}

	f := benchCmd.Flags()
	f.IntP("payload-size", "m", 100, "payload size in bytes")
	f.IntP("rate", "r", 0, "messages per second per publisher (0 = unthrottled)")
	f.String("topic-format", "{run_id}/hello/{session_id}/world", "topic template; tokens {run_id}, {session_id}, {data_kind}")

	f = simulatorCmd.Flags()
	f.Int("imu-rate", 100, "IMU messages per second per publisher (0 = unthrottled)")
	f.Int("bms-rate", 1, "BMS messages per second per publisher (0 = unthrottled)")
	f.Int("gps-rate", 10, "GPS messages per second per publisher (0 = unthrottled)")
	f.String("topic-format", "/tenants/demo/devices/{session_id}/events/{data_kind}/jsonarray", "topic template; tokens {run_id}, {session_id}, {data_kind}")
}

func addNetworkFlags(f *pflag.FlagSet) {
	f.StringP("server", "S", "localhost", "broker host")
	f.IntP("port", "P", 1883, "broker port")
	f.IntP("keep-alive", "k", 10, "keep-alive in seconds")
	f.IntP("max-inflight", "i", 100, "max unacknowledged publishes per connection")
	f.IntP("conn-timeout", "t", 5, "connection timeout in seconds")
	f.StringP("ca-file", "R", "", "CA certificate file; enables TLS")
	f.String("client-cert", "", "client certificate file")
	f.String("client-key", "", "client private key file")
	f.Float64("conn-rate", 0, "new connections per second (0 = unpaced)")
	f.Int("reconnect-limit", 1, "connection errors after which a session stops measuring")
}

func addCommonFlags(f *pflag.FlagSet) {
	f.IntP("publishers", "p", 1, "number of publishers")
	f.IntP("subscribers", "s", 1, "number of subscribers")
	f.Int("publish-qos", 1, "QoS of published messages (0, 1 or 2)")
	f.Int("subscribe-qos", 1, "QoS of subscriptions (0, 1 or 2)")
	f.IntP("count", "n", 10000, "messages per publisher (0 = connect and idle)")
	f.Bool("disable-unique-clientid-prefix", false, "do not prefix client ids with the run id")
	f.Bool("show-pub-stat", false, "print per-publisher statistics")
	f.Bool("show-sub-stat", false, "print per-subscriber statistics")
	f.Float64("sleep-sub", 0, "subscribers pause this many seconds every 100 messages")
	f.Float64("idle-timeout", 0, "end a subscriber after this many idle seconds (0 = never)")
	f.Bool("tui", false, "show the interactive live view")
	f.Bool("allow-partial", false, "keep running when some sessions fail to connect")
}

func benchConfig(items []workload.Item) (runner.Config, error) {
	tlsCfg, err := loadTLS()
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		Host:           viper.GetString("server"),
		Port:           viper.GetInt("port"),
		KeepAlive:      seconds("keep-alive"),
		ConnectTimeout: seconds("conn-timeout"),
		MaxInflight:    viper.GetInt("max-inflight"),
		TLS:            tlsCfg,

		Publishers:   viper.GetInt("publishers"),
		Subscribers:  viper.GetInt("subscribers"),
		PublishQoS:   mqtt.ParseQoS(viper.GetInt("publish-qos")),
		SubscribeQoS: mqtt.ParseQoS(viper.GetInt("subscribe-qos")),
		Count:        viper.GetInt("count"),
		Items:        items,

		TopicFormat:         viper.GetString("topic-format"),
		RunID:               runner.NewRunID(),
		DisableUniquePrefix: viper.GetBool("disable-unique-clientid-prefix"),

		ReconnectLimit: viper.GetInt("reconnect-limit"),
		SleepSub:       seconds("sleep-sub"),
		IdleTimeout:    seconds("idle-timeout"),
		ConnRate:       viper.GetFloat64("conn-rate"),
		AllowPartial:   viper.GetBool("allow-partial"),
		KeepSessions:   viper.GetBool("show-pub-stat") || viper.GetBool("show-sub-stat"),
	}, nil
}

func runBench(ctx context.Context, mode string, items []workload.Item) error {
	cfg, err := benchConfig(items)
	if err != nil {
		return err
	}

	updates := make(stats.UpdateChan, 16)
	r := runner.NewRunner(cfg, dialer(), log, updates)
	if recorder != nil {
		r.Observer = recorder
	}

	var report *stats.Report
	if viper.GetBool("tui") {
		m := tui.NewModel("mqttwrk "+mode, []string{
			fmt.Sprintf("broker %s:%d | run %s", cfg.Host, cfg.Port, cfg.RunID),
			fmt.Sprintf("%d publishers x %d messages | %d subscribers | QoS %d/%d",
				cfg.Publishers, cfg.Count, cfg.Subscribers, cfg.PublishQoS, cfg.SubscribeQoS),
		}, updates, tui.Expect{Publish: cfg.ExpectedAcks(), Incoming: cfg.ExpectedIncoming()})
		report, err = tui.Run(ctx, m, r.Run)
	} else {
		cli.PrintHeader(os.Stdout, mode, &cfg)
		done := make(chan struct{})
		monitored := make(chan struct{})
		go func() {
			defer close(monitored)
			cli.Monitor(ctx, os.Stdout, updates, done)
		}()
		report, err = r.Run(ctx)
		close(done)
		<-monitored
	}

	if report != nil {
		cli.PrintReport(os.Stdout, report, &cfg)
		if viper.GetBool("show-pub-stat") {
			cli.PrintSessions(os.Stdout, report.PerSession, stats.Publisher)
		}
		if viper.GetBool("show-sub-stat") {
			cli.PrintSessions(os.Stdout, report.PerSession, stats.Subscriber)
		}
	}
	return err
}
