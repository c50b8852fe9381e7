package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/peerdrop/peerdrop/internal/agent"
	"github.com/peerdrop/peerdrop/internal/files"
	"github.com/peerdrop/peerdrop/internal/ui"
)

var flagRoom string

var hostCmd = &cobra.Command{
	Use:     "host [files...]",
	Aliases: []string{"share"},
	Short:   "Open a room and serve files to anyone who joins",
	Long: `Open a room, announce the given files, and serve download requests
until interrupted. Share the printed room code with peers; any number of
them can fetch concurrently.

Examples:
  peerdrop host report.pdf photos.zip
  peerdrop host --room myroom42 big.iso
  peerdrop host --transport poll file.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(args)
	},
}

func init() {
	hostCmd.Flags().StringVar(&flagRoom, "room", "", "reuse a specific room code instead of minting one")
}

func runHost(paths []string) error {
	stopSpinner := ui.RunSpinner("Inspecting files...")
	defer stopSpinner()
	shared, err := files.Describe(paths)
	if err != nil {
		return err
	}
	stopSpinner()

	descriptors := files.Descriptors(shared)
	fmt.Println()
	ui.RenderFileTable(descriptors, nil)

	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	fmt.Println()
	stopSpinner = ui.RunConnectionSpinner("Connecting to coordinator...")
	defer stopSpinner()
	link, err := newLink(cfg)
	if err != nil {
		return err
	}
	defer link.Close()
	stopSpinner()

	session := agent.NewHostSession(cfg, link, shared, slog.Default())

	code, err := session.Open(flagRoom)
	if err != nil {
		return err
	}
	ui.RenderRoomInfo(code, cfg.Server)

	session.OnDownloads = func(counts map[string]int) {
		ui.RenderFileTable(descriptors, counts)
	}
	session.OnTransferDone = func(peerID, fileID string, err error) {
		if err != nil {
			ui.PrintErrorf("transfer of %s to %.8s failed: %v", fileID, peerID, err)
			return
		}
		ui.PrintSuccessf("sent %s to %.8s", fileID, peerID)
	}

	ui.PrintInfo("Serving. Press Ctrl+C to close the room.")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runErr := session.Run(ctx)

	link.CloseRoom()
	if runErr == context.Canceled {
		ui.PrintSuccess("Room closed.")
		return nil
	}
	return runErr
}
