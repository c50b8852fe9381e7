package ui

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/peerdrop/peerdrop/internal/files"
	"github.com/peerdrop/peerdrop/internal/protocol"
)

// RenderFileTable prints the offered file list with per-file active-download
// counts when available (counts may be nil on the client side).
func RenderFileTable(descriptors []protocol.FileDescriptor, downloads map[string]int) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)

	if downloads != nil {
		t.AppendHeader(table.Row{"#", "ID", "Name", "Size", "Type", "Fetching"})
	} else {
		t.AppendHeader(table.Row{"#", "ID", "Name", "Size", "Type"})
	}

	for i, d := range descriptors {
		row := table.Row{i + 1, d.ID, d.Name, files.FormatSize(d.Size), d.Type}
		if downloads != nil {
			row = append(row, downloads[d.ID])
		}
		t.AppendRow(row)
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
	})
	t.Render()
}

// TransferSummary holds the end-of-session statistics.
type TransferSummary struct {
	Status    string
	Files     int
	TotalSize string
	Duration  string
	Speed     string
}

// RenderTransferSummary prints the final stats table.
func RenderTransferSummary(title string, summary TransferSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	t.AppendRows([]table.Row{
		{"Status", summary.Status},
		{"Files", fmt.Sprintf("%d", summary.Files)},
		{"Total Size", summary.TotalSize},
		{"Duration", summary.Duration},
		{"Avg Speed", summary.Speed},
	})
	t.Render()
}

// RenderRoomInfo prints the room code banner a host shares with its peers.
func RenderRoomInfo(roomID, serverURL string) {
	fmt.Println()
	fmt.Printf("%s Room ready!\n", IconSuccess)
	fmt.Printf("   Room code: %s\n", BoldStyle.Foreground(Primary).Render(roomID))
	fmt.Printf("   Server:    %s\n", MutedStyle.Render(serverURL))
	fmt.Println()
}
