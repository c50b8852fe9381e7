package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerdrop/peerdrop/internal/agent"
	"github.com/peerdrop/peerdrop/internal/config"
	"github.com/peerdrop/peerdrop/internal/ui"
	"github.com/peerdrop/peerdrop/internal/version"
)

var (
	flagServer       string
	flagTransport    string
	flagPollInterval time.Duration
	flagSTUN         string
	flagTURN         string
	flagTURNUser     string
	flagTURNPass     string
)

var rootCmd = &cobra.Command{
	Use:     "peerdrop",
	Short:   "Peer-to-peer file sharing through ephemeral rooms",
	Long: `Peerdrop transfers files directly between devices over WebRTC data
channels. A host opens a room and shares its code; any number of peers join
with the code and fetch files concurrently. The coordinator only relays
signaling, never file bytes.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "coordinator host[:port]")
	rootCmd.PersistentFlags().StringVar(&flagTransport, "transport", "", "coordinator transport: push or poll")
	rootCmd.PersistentFlags().DurationVar(&flagPollInterval, "poll-interval", 0, "poll cycle length for the poll transport")
	rootCmd.PersistentFlags().StringVar(&flagSTUN, "stun", "", "STUN server URL")
	rootCmd.PersistentFlags().StringVar(&flagTURN, "turn", "", "TURN server URL")
	rootCmd.PersistentFlags().StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	rootCmd.PersistentFlags().StringVar(&flagTURNPass, "turn-pass", "", "TURN password")

	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the CLI. Called by main. Interrupt handling lives in the
// commands themselves so host and fetch can shut their sessions down cleanly.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func loadConfig(outputDir string) (*config.Config, error) {
	return config.Load(config.Options{
		Server:       flagServer,
		Transport:    flagTransport,
		PollInterval: flagPollInterval,
		STUNServer:   flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
		OutputDir:    outputDir,
	})
}

// newLink builds the configured transport and connects it.
func newLink(cfg *config.Config) (agent.Link, error) {
	identity := agent.NewIdentity()

	if cfg.Transport == "poll" {
		return agent.NewPollLink(cfg.BaseURL, identity, cfg.PollInterval), nil
	}

	link := agent.NewPushLink(cfg.WebSocketURL, identity)
	if err := link.Connect(); err != nil {
		return nil, err
	}
	return link, nil
}
