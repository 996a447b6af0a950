package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/graphdev/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running dev session",
	Long: `Display the state of the active dev session.

Shows:
  - Leader address, router listen address and process IDs
  - Each subgraph and its last known state
  - The most recent composition outcome
  - Recently finished sessions`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	dbPath := state.DefaultDBPath()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No active session. Run 'graphdev dev' to start.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	session, err := db.GetActiveSession()
	if err != nil {
		return fmt.Errorf("get active session: %w", err)
	}

	if session == nil {
		fmt.Println("No active session. Run 'graphdev dev' to start.")
		return displayRecentSessions(db)
	}

	displaySession(session)

	subgraphs, err := db.ListSubgraphs(session.ID)
	if err != nil {
		return fmt.Errorf("list subgraphs: %w", err)
	}
	displaySubgraphs(subgraphs)

	last, err := db.LastComposition(session.ID)
	if err != nil {
		return fmt.Errorf("last composition: %w", err)
	}
	displayComposition(last)

	fmt.Println()
	return displayRecentSessions(db)
}

func displaySession(s *state.Session) {
	fmt.Printf("Current Session: %s\n", s.ID)
	fmt.Printf("  Started: %s ago\n", formatDuration(time.Since(s.StartedAt)))
	fmt.Printf("  Leader: %s (pid %d)\n", s.IPCAddress, s.PID)
	if s.RouterPID > 0 {
		fmt.Printf("  Router: http://%s (pid %d)\n", s.RouterListen, s.RouterPID)
	} else {
		fmt.Printf("  Router: starting\n")
	}
	fmt.Printf("  Workdir: %s\n", s.Workdir)
}

func displaySubgraphs(subgraphs []state.SubgraphStatus) {
	if len(subgraphs) == 0 {
		fmt.Println("  Subgraphs: none")
		return
	}

	fmt.Printf("  Subgraphs: %d\n", len(subgraphs))
	fmt.Println()
	fmt.Println("Subgraphs:")
	for _, sg := range subgraphs {
		symbol, attr := subgraphSymbol(sg.State)
		line := fmt.Sprintf("%s %s (%s) %s", sg.Name, sg.RoutingURL, sg.State, formatDuration(time.Since(sg.UpdatedAt))+" ago")
		if sg.LastError != "" {
			line += "\n      " + sg.LastError
		}
		fmt.Printf("  %s %s\n", color.New(attr).Sprint(symbol), line)
	}
}

func subgraphSymbol(s state.SubgraphState) (string, color.Attribute) {
	switch s {
	case state.SubgraphHealthy:
		return "✓", colorOK
	case state.SubgraphStale:
		return "⚠", colorWarn
	case state.SubgraphEvicted:
		return "✗", colorError
	default:
		return "…", colorInfo
	}
}

func displayComposition(c *state.Composition) {
	if c == nil {
		fmt.Println("  Last composition: none yet")
		return
	}
	fed := c.FederationVersion
	if fed == "" {
		fed = "default"
	}
	fmt.Printf("  Last composition: %s, %d subgraphs, %d errors, federation %s (%s ago)\n",
		c.Outcome, c.SubgraphCount, c.ErrorCount, fed, formatDuration(time.Since(c.CreatedAt)))
}

func displayRecentSessions(db *state.DB) error {
	sessions, err := db.ListSessions(nil)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	var recent []state.Session
	for _, s := range sessions {
		if s.Status != state.SessionActive {
			recent = append(recent, s)
			if len(recent) >= 5 {
				break
			}
		}
	}

	if len(recent) == 0 {
		return nil
	}

	fmt.Println("Recent Sessions:")
	for _, s := range recent {
		elapsed := formatDuration(time.Since(s.StartedAt))
		fmt.Printf("  %s: %s (%s ago)\n", s.ID, s.Status, elapsed)
	}

	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
