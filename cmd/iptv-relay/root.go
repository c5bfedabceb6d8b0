package main

import (
	"fmt"
	"os"
	"time"

	"iptv-relay/internal/app"
	"iptv-relay/pkg/config"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "iptv-relay",
	Short: "Rewriting HLS proxy for IPTV players",
	Long: `iptv-relay fetches HLS playlists, rewrites every segment and key
reference to point back at itself and relays the bytes on demand.

Upstream headers that players cannot set travel in the rewritten URLs
as h_<Name>=<value> parameters. Pages of token-gated hosts are resolved
to their playlist before rewriting.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		// Ensure cleanup on exit
		defer application.Shutdown()

		return application.Run()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(v)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.iptv-relay.yaml)")

	// Server flags
	rootCmd.Flags().Int("port", 7860, "Listening port")
	rootCmd.Flags().String("base-url", "", "Public URL of the relay used in rewritten playlists (default: relative links)")
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().Bool("log-json", false, "Log in JSON format")

	// Upstream flags
	rootCmd.Flags().String("user-agent", config.DefaultUserAgent, "Default upstream User-Agent")
	rootCmd.Flags().String("referer", "", "Default upstream Referer (default: target scheme and host)")
	rootCmd.Flags().String("origin", "", "Default upstream Origin (default: target scheme and host)")
	rootCmd.Flags().String("global-proxy", "", "Proxy for all upstream requests (http:// or socks5://)")
	rootCmd.Flags().String("transport-routes", "", "Per-URL routes: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {...}")

	// Resolver flags
	rootCmd.Flags().String("gated-hosts", "dlhd.,daddylive,daddyhd", "Comma separated host fragments of token-gated pages")
	rootCmd.Flags().Float64("resolve-rate", 2, "Handshakes per second against gated hosts (0 = unlimited)")
	rootCmd.Flags().Int("resolve-burst", 4, "Handshake burst against gated hosts")

	// Channel flags
	rootCmd.Flags().String("channels", "", "Named channels: name=url, name2=url2")
	rootCmd.Flags().String("channels-file", "", "M3U file or URL with more channels, named by tvg-id")
	rootCmd.Flags().Int("cache-size", 128, "Maximum cached channel sessions")
	rootCmd.Flags().Duration("cache-ttl", 10*time.Minute, "Lifetime of a cached channel session")

	// Bind all flags to viper
	if err := v.BindPFlags(rootCmd.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, "error binding flags:", err)
		os.Exit(1)
	}
}

// initConfig reads in config file if set or found
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search config in home directory and current directory
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(".iptv-relay")
	}

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintln(os.Stderr, "error reading config file:", err)
		os.Exit(1)
	}
}
