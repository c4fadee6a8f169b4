package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mqttwrk/internal/banner"
	"mqttwrk/internal/dummy"
	"mqttwrk/internal/logging"
	"mqttwrk/internal/metrics"
	"mqttwrk/internal/mqtt"
)

var (
	cfgFile string

	log         *zap.Logger
	recorder    *metrics.Recorder
	stopProfile func()
)

var rootCmd = &cobra.Command{
	Use:   "mqttwrk",
	Short: "mqttwrk - MQTT broker benchmark and conformance harness",
	Long: `
mqttwrk drives many concurrent MQTT sessions against a broker and reports
latency percentiles and throughput.

Subcommands:
  bench        fixed publishers/subscribers with raw payloads
  simulator    like bench, with synthetic IMU/BMS/GPS sensor payloads
  round        round-trip throughput at growing connection counts
  conformance  scripted protocol checks`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		_ = cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mqttwrk.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: console or json")
	pf.Bool("dry-run", false, "run against the in-process loopback broker")
	pf.String("dry-run-profile", string(dummy.Instant), "loopback broker ack latency: instant, fast, medium, spike")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	pf.String("cpu-profile", "", "write a CPU profile to this file")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".mqttwrk")
		}
	}
	viper.SetEnvPrefix("MQTTWRK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var err error
	log, err = logging.New(viper.GetString("log-level"), viper.GetString("log-format"))
	if err != nil {
		return err
	}
	if f := viper.ConfigFileUsed(); f != "" {
		log.Debug("using config file", zap.String("file", f))
	}

	if path := viper.GetString("cpu-profile"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("cpu profile: %w", err)
		}
		stopProfile = func() {
			pprof.StopCPUProfile()
			f.Close()
		}
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		recorder = metrics.New()
		go func() {
			if err := recorder.Serve(cmd.Context(), addr, log); err != nil {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}
	return nil
}

func teardown() {
	if stopProfile != nil {
		stopProfile()
	}
	if log != nil {
		_ = log.Sync()
	}
}

// dialer returns the loopback broker under --dry-run and the network client
// otherwise.
func dialer() mqtt.Dialer {
	if viper.GetBool("dry-run") {
		profile := dummy.Profile(viper.GetString("dry-run-profile"))
		log.Info("dry run against loopback broker", zap.String("profile", string(profile)))
		return dummy.New(dummy.ServerConfig{Profile: profile})
	}
	return mqtt.PahoDialer{}
}

func loadTLS() (*tls.Config, error) {
	return mqtt.LoadTLSConfig(
		viper.GetString("ca-file"),
		viper.GetString("client-cert"),
		viper.GetString("client-key"),
	)
}

func seconds(key string) time.Duration {
	return time.Duration(viper.GetFloat64(key) * float64(time.Second))
}
