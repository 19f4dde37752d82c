package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joshp123/flairbridge/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "flairctl",
	Short:         "Inspect and control a running flairbridge",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("grpc-addr", "", "flairbridge gRPC address (default from config)")
	flags.String("http-addr", "", "flairbridge HTTP address (default from config)")
	flags.String("config", "", "Path to the bridge config.yaml used for address discovery")
	flags.StringP("output", "o", "table", "Output format: table, json or yaml")
	_ = viper.BindPFlags(flags)

	viper.SetEnvPrefix("FLAIRBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func resolveGRPCAddr() string {
	if addr := viper.GetString("grpc-addr"); addr != "" {
		return addr
	}
	if cfg := discoverConfig(); cfg != nil {
		return dialable(cfg.Core.GRPCAddr)
	}
	return dialable(config.DefaultGRPCAddr)
}

func resolveHTTPAddr() string {
	addr := viper.GetString("http-addr")
	if addr == "" {
		addr = config.DefaultHTTPAddr
		if cfg := discoverConfig(); cfg != nil {
			addr = cfg.Core.HTTPAddr
		}
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + dialable(addr)
}

// dialable turns a wildcard listen address into one a client can reach.
func dialable(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func discoverConfig() *config.Config {
	for _, path := range configSearchPaths() {
		if cfg, err := config.Load(path); err == nil {
			return cfg
		}
	}
	return nil
}

func configSearchPaths() []string {
	if path := viper.GetString("config"); path != "" {
		return []string{path}
	}
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "flairbridge", "config.yaml"))
	}
	return paths
}
