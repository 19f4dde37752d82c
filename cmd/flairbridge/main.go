package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshp123/flairbridge/internal/config"
)

var Commit string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "flairbridge",
	Short:         "Bridge Flair vents, pucks and rooms to MQTT, InfluxDB and Prometheus",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build commit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Commit)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", config.DefaultPath, "Path to config.yaml")
	flags.String("log-level", "", "Override log.level")
	flags.String("http-addr", "", "Override core.http_addr")
	flags.String("grpc-addr", "", "Override core.grpc_addr")
	_ = viper.BindPFlags(flags)

	viper.SetEnvPrefix("FLAIRBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd, checkCmd, loginCmd, versionCmd)
}

// loadConfig reads the YAML file and applies flag or FLAIRBRIDGE_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("http-addr"); v != "" {
		cfg.Core.HTTPAddr = v
	}
	if v := viper.GetString("grpc-addr"); v != "" {
		cfg.Core.GRPCAddr = v
	}
	return cfg, nil
}
