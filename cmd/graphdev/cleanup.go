package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/graphdev/internal/state"
)

var (
	cleanupForce    bool
	cleanupDryRun   bool
	cleanupSessions bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Clean up after crashed dev sessions",
	Long: `Clean up sessions whose leader process exited without shutting down.

For each stale session this command:
  - Kills the orphaned router process if it is still running
  - Removes the leftover leader socket
  - Deletes the session's working directory
  - Marks the session failed

With --sessions flag:
  - Deletes sessions older than 30 days from the database

Examples:
  graphdev cleanup              # Interactive cleanup with confirmation
  graphdev cleanup --force      # Skip confirmation prompt
  graphdev cleanup --dry-run    # Show what would be removed
  graphdev cleanup --sessions   # Also purge sessions older than 30 days`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVar(&cleanupSessions, "sessions", false, "Purge sessions older than 30 days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	dbPath := state.DefaultDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No database found - nothing to clean up.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cfg := loadConfigOrDefault()
	rm := state.NewRecoveryManager(db, newLogger(cfg))

	stale, err := rm.FindStale()
	if err != nil {
		return fmt.Errorf("find stale sessions: %w", err)
	}

	if len(stale) == 0 {
		fmt.Println("No stale sessions found.")
	} else {
		fmt.Printf("Found %d stale session(s):\n", len(stale))
		for _, s := range stale {
			router := "none"
			if s.RouterPID > 0 {
				router = fmt.Sprintf("pid %d", s.RouterPID)
			}
			fmt.Printf("  - %s (started %s ago, router %s, workdir %s)\n",
				s.ID, formatDuration(time.Since(s.StartedAt)), router, s.Workdir)
		}
		fmt.Println()

		switch {
		case cleanupDryRun:
			fmt.Println("Dry run mode - nothing was removed.")
		case !cleanupForce && !confirm("Clean up these sessions? [y/N] "):
			fmt.Println("Session cleanup cancelled.")
		default:
			cleaned := 0
			for _, s := range stale {
				if err := rm.Clean(s); err != nil {
					printStatus("✗", fmt.Sprintf("%s: %v", s.ID, err), colorError)
					continue
				}
				cleaned++
			}
			printStatus("✓", fmt.Sprintf("Cleaned %d stale session(s).", cleaned), colorOK)
		}
	}

	if cleanupSessions {
		return cleanupOldSessions(db)
	}
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// cleanupOldSessions purges sessions older than 30 days.
func cleanupOldSessions(db *state.DB) error {
	const sessionMaxAge = 30 * 24 * time.Hour

	if cleanupDryRun {
		sessions, err := db.ListSessions(nil)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		cutoff := time.Now().Add(-sessionMaxAge)
		count := 0
		for _, s := range sessions {
			if s.Status != state.SessionActive && s.StartedAt.Before(cutoff) {
				count++
			}
		}
		fmt.Printf("Dry run: would purge %d session(s) older than 30 days.\n", count)
		return nil
	}

	purged, err := db.PurgeOldSessions(sessionMaxAge)
	if err != nil {
		return fmt.Errorf("purge old sessions: %w", err)
	}

	if purged > 0 {
		fmt.Printf("Purged %d session(s) older than 30 days.\n", purged)
	} else {
		fmt.Println("No sessions older than 30 days found.")
	}
	return nil
}
