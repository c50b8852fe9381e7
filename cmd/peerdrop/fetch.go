package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerdrop/peerdrop/internal/agent"
	"github.com/peerdrop/peerdrop/internal/files"
	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/ui"
)

var flagOutput string

var fetchCmd = &cobra.Command{
	Use:     "fetch <room-code> [file-ids...]",
	Aliases: []string{"get"},
	Short:   "Join a room and download files",
	Long: `Join a room by its code and download files from the host. With no
file IDs every offered file is fetched; otherwise only the named ones.

Examples:
  peerdrop fetch ab12cd34
  peerdrop fetch ab12cd34 f1 f3
  peerdrop fetch --output ~/Downloads ab12cd34`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFetch(args[0], args[1:])
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "directory to save fetched files into")
}

func runFetch(roomID string, fileIDs []string) error {
	cfg, err := loadConfig(flagOutput)
	if err != nil {
		return err
	}

	stopSpinner := ui.RunConnectionSpinner("Joining room...")
	defer stopSpinner()
	link, err := newLink(cfg)
	if err != nil {
		return err
	}
	defer link.Close()

	joined, err := link.Join(roomID)
	if err != nil {
		return err
	}
	stopSpinner()

	if len(joined.Files) == 0 {
		return fmt.Errorf("room %s offers no files", roomID)
	}

	fmt.Println()
	ui.RenderFileTable(joined.Files, nil)

	selected, err := selectFiles(joined.Files, fileIDs)
	if err != nil {
		return err
	}

	names := make([]string, len(selected))
	sizes := make([]int64, len(selected))
	index := make(map[string]int, len(selected))
	ids := make([]string, len(selected))
	for i, f := range selected {
		names[i] = f.Name
		sizes[i] = f.Size
		index[f.ID] = i
		ids[i] = f.ID
	}

	live := ui.NewTransferUI(names, sizes)

	session := agent.NewFetchSession(cfg, link, slog.Default())
	session.OnProgress = func(fileID string, received, declared int64) {
		if i, ok := index[fileID]; ok {
			live.UpdateProgress(i, received)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	live.Start()
	live.SetState("Fetching...")

	start := time.Now()
	results, fetchErr := session.Fetch(ctx, ids)
	elapsed := time.Since(start)

	for _, res := range results {
		i, ok := index[res.FileID]
		if !ok {
			continue
		}
		if res.Err == nil {
			live.MarkComplete(i)
		} else {
			live.MarkFailed(i, res.Err.Error())
		}
	}
	live.Stop()

	link.Leave()

	var received int64
	failures := 0
	for _, res := range results {
		if res.Err != nil {
			failures++
			ui.PrintErrorf("%s failed: %v", res.FileID, res.Err)
			continue
		}
		received += res.Size
		ui.PrintSuccessf("saved %s", res.Path)
	}

	status := fmt.Sprintf("%s complete", ui.IconComplete)
	if failures > 0 || fetchErr != nil {
		status = fmt.Sprintf("%s %d of %d failed", ui.IconWarning, len(ids)-len(results)+failures, len(ids))
	}

	speed := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		speed = float64(received) / secs
	}

	fmt.Println()
	ui.RenderTransferSummary("Fetch", ui.TransferSummary{
		Status:    status,
		Files:     len(results) - failures,
		TotalSize: files.FormatSize(received),
		Duration:  elapsed.Round(time.Millisecond).String(),
		Speed:     files.FormatSpeed(speed),
	})

	if fetchErr != nil && fetchErr != context.Canceled {
		return fetchErr
	}
	return nil
}

// selectFiles resolves the requested IDs against the offered list; no IDs
// means everything.
func selectFiles(offered []protocol.FileDescriptor, fileIDs []string) ([]protocol.FileDescriptor, error) {
	if len(fileIDs) == 0 {
		return offered, nil
	}

	byID := make(map[string]protocol.FileDescriptor, len(offered))
	for _, f := range offered {
		byID[f.ID] = f
	}

	selected := make([]protocol.FileDescriptor, 0, len(fileIDs))
	for _, id := range fileIDs {
		f, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("file %s is not offered in this room", id)
		}
		selected = append(selected, f)
	}
	return selected, nil
}
