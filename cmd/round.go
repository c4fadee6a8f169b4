package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mqttwrk/internal/cli"
	"mqttwrk/internal/round"
	"mqttwrk/internal/runner"
	"mqttwrk/internal/storage"
)

var roundCmd = &cobra.Command{
	Use:   "round",
	Short: "Measure round-trip throughput at growing connection counts",
	Long: `
Every connection publishes to a topic it is itself subscribed to and keeps
--in-flight messages outstanding. Without --connections the harness walks a
ladder of connection counts, cooling down between rounds.`,
	RunE: runRound,
}

func init() {
	rootCmd.AddCommand(roundCmd)

	f := roundCmd.Flags()
	f.IntP("connections", "c", 0, "run a single round with this many connections (0 = ladder)")
	f.IntP("in-flight", "i", 100, "messages each connection keeps in flight")
	f.StringP("broker", "b", "localhost", "broker host")
	f.IntP("port", "p", 1883, "broker port")
	f.IntP("payload-size", "s", 100, "payload size in bytes")
	f.Float64P("duration", "d", 10, "round duration in seconds")
	f.Uint64P("count", "n", 0, "messages each connection sends before the round ends (0 = no budget)")
	f.Float64("cool-down", 2, "pause between rounds in seconds")
	f.Float64("grace", 10, "extra seconds a connection may take to drain after the round")
	f.IntP("keep-alive", "k", 10, "keep-alive in seconds")
	f.Float64("conn-timeout", 10, "connection timeout in seconds")
	f.StringP("ca-file", "R", "", "CA certificate file; enables TLS")
	f.String("client-cert", "", "client certificate file")
	f.String("client-key", "", "client private key file")
}

func runRound(cmd *cobra.Command, _ []string) error {
	tlsCfg, err := loadTLS()
	if err != nil {
		return err
	}
	cfg := round.Config{
		Host:           viper.GetString("broker"),
		Port:           viper.GetInt("port"),
		TLS:            tlsCfg,
		Connections:    viper.GetInt("connections"),
		InFlight:       viper.GetInt("in-flight"),
		PayloadSize:    viper.GetInt("payload-size"),
		Duration:       seconds("duration"),
		Count:          viper.GetUint64("count"),
		KeepAlive:      seconds("keep-alive"),
		ConnectTimeout: seconds("conn-timeout"),
		CoolDown:       seconds("cool-down"),
		Grace:          seconds("grace"),
		RunID:          runner.NewRunID(),
	}

	store, err := storage.NewStore("")
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing round store", zap.Error(err))
		}
	}()

	h := round.NewHarness(cfg, dialer(), log)
	h.Recorder = store
	h.OnRound = func(r round.Result) { cli.PrintRound(os.Stdout, r) }
	if recorder != nil {
		h.Observer = recorder
	}

	cli.PrintRoundHeader(os.Stdout, &cfg)
	_, runErr := h.Run(cmd.Context())

	records, err := store.List()
	if err != nil {
		log.Warn("reading round history", zap.Error(err))
	} else if len(records) > 0 {
		cli.PrintRounds(os.Stdout, records)
	}
	return runErr
}
