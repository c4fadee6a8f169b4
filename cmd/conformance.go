package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mqttwrk/internal/conformance"
)

var conformanceCmd = &cobra.Command{
	Use:   "conformance",
	Short: "Run scripted protocol checks against a broker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tlsCfg, err := loadTLS()
		if err != nil {
			return err
		}
		suite := conformance.New(conformance.Config{
			Host:      viper.GetString("server"),
			Port:      viper.GetInt("port"),
			TLS:       tlsCfg,
			Timeout:   seconds("timeout"),
			KeepAlive: seconds("keep-alive"),
			Quiet:     seconds("quiet"),
		}, dialer(), log, os.Stdout)
		_, err = suite.Run(cmd.Context())
		return err
	},
}

func init() {
	rootCmd.AddCommand(conformanceCmd)

	f := conformanceCmd.Flags()
	f.StringP("server", "S", "localhost", "broker host")
	f.IntP("port", "P", 1883, "broker port")
	f.Float64("timeout", 10, "seconds each check may take")
	f.IntP("keep-alive", "k", 5, "keep-alive in seconds")
	f.Float64("quiet", 1, "seconds to wait to be sure no further message arrives")
	f.StringP("ca-file", "R", "", "CA certificate file; enables TLS")
	f.String("client-cert", "", "client certificate file")
	f.String("client-key", "", "client private key file")
}
