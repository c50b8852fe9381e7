package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/peerdrop/peerdrop/internal/protocol"
	"github.com/peerdrop/peerdrop/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status <room-code>",
	Short: "Inspect a room without joining it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(args[0])
	},
}

func runStatus(roomID string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(cfg.BaseURL + "/api/rooms/" + roomID)
	if err != nil {
		return fmt.Errorf("query coordinator: %w", err)
	}
	defer resp.Body.Close()

	var status protocol.RoomStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	if !status.Exists {
		ui.PrintWarning(fmt.Sprintf("Room %s does not exist.", roomID))
		return nil
	}

	if status.HasHost {
		ui.PrintSuccessf("Room %s is open with %d file(s) on offer.", roomID, status.FileCount)
	} else {
		ui.PrintWarning(fmt.Sprintf("Room %s exists but its host is offline.", roomID))
	}
	return nil
}
