package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/graphdev/internal/orchestrator"
	"github.com/ShayCichocki/graphdev/internal/router"
	"github.com/ShayCichocki/graphdev/pkg/models"
)

func send(d *Dashboard, events ...orchestrator.Event) {
	for _, ev := range events {
		d.Update(EventMsg{Event: ev})
	}
}

func TestDashboardTracksSubgraphs(t *testing.T) {
	d := NewDashboard("supergraph.yaml")
	d.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	send(d,
		orchestrator.Event{Type: orchestrator.EventSubgraphLoaded, Subgraph: "users", Message: "http://localhost:4001"},
		orchestrator.Event{Type: orchestrator.EventSubgraphLoaded, Subgraph: "products", Message: "http://localhost:4002"},
		orchestrator.Event{Type: orchestrator.EventSubgraphFetchFailed, Subgraph: "users", Message: "fetch failed", Error: errors.New("connection refused")},
	)

	rows := d.Subgraphs()
	if len(rows) != 2 {
		t.Fatalf("got %d subgraphs, want 2", len(rows))
	}
	if rows[0].Name != "products" || rows[0].State != "healthy" {
		t.Errorf("rows[0] = %+v, want healthy products", rows[0])
	}
	if rows[1].Name != "users" || rows[1].State != "stale" {
		t.Errorf("rows[1] = %+v, want stale users", rows[1])
	}
	if rows[1].LastError != "connection refused" {
		t.Errorf("LastError = %q", rows[1].LastError)
	}
	if rows[1].RoutingURL != "http://localhost:4001" {
		t.Errorf("RoutingURL = %q, want it kept after a failed fetch", rows[1].RoutingURL)
	}

	send(d, orchestrator.Event{Type: orchestrator.EventSubgraphEvicted, Subgraph: "users", Error: errors.New("retry budget exhausted")})
	if got := d.Subgraphs()[1].State; got != "evicted" {
		t.Errorf("State after eviction = %q, want evicted", got)
	}

	send(d, orchestrator.Event{Type: orchestrator.EventSubgraphRemoved, Subgraph: "users"})
	if got := len(d.Subgraphs()); got != 1 {
		t.Errorf("got %d subgraphs after removal, want 1", got)
	}
}

func TestDashboardComposition(t *testing.T) {
	d := NewDashboard("supergraph.yaml")
	failed := models.Failed([]models.BuildError{{Subgraph: "users", Message: "Field \"User.id\" conflicts"}})

	send(d, orchestrator.Event{Type: orchestrator.EventCompositionFailed, Outcome: &failed})
	view := d.View()
	if !strings.Contains(view, "User.id") {
		t.Errorf("View() does not show the build error:\n%s", view)
	}
	if !strings.Contains(view, "previous supergraph") {
		t.Errorf("View() does not say the previous supergraph is still served:\n%s", view)
	}

	send(d, orchestrator.Event{Type: orchestrator.EventCompositionSucceeded})
	if strings.Contains(d.View(), "User.id") {
		t.Error("build errors still shown after a successful composition")
	}
}

func TestDashboardRouterStatus(t *testing.T) {
	d := NewDashboard("supergraph.yaml")
	if !strings.Contains(d.View(), "waiting for the first supergraph") {
		t.Error("View() should show the router waiting before any event")
	}

	send(d,
		orchestrator.Event{Type: orchestrator.EventRouterStage, Stage: router.StageRun},
		orchestrator.Event{Type: orchestrator.EventRouterHealthy},
		orchestrator.Event{Type: orchestrator.EventHotReload, Message: "supergraph.graphql"},
		orchestrator.Event{Type: orchestrator.EventHotReload, Message: "router.yaml", Error: errors.New("disk full")},
	)
	if !strings.Contains(d.View(), "healthy (1 reloads)") {
		t.Errorf("View() router line wrong:\n%s", d.View())
	}
}

func TestLogEntryFor(t *testing.T) {
	tests := []struct {
		name      string
		ev        orchestrator.Event
		wantLevel string
		wantMsg   string
	}{
		{"router stderr", orchestrator.Event{Type: orchestrator.EventRouterLog, Stream: router.Stderr, Message: "boom"}, "WARN", "router: boom"},
		{"router stdout", orchestrator.Event{Type: orchestrator.EventRouterLog, Stream: router.Stdout, Message: "listening"}, "INFO", "router: listening"},
		{"fetch failed", orchestrator.Event{Type: orchestrator.EventSubgraphFetchFailed, Subgraph: "users", Message: "fetch failed", Error: errors.New("timeout")}, "ERROR", "users: fetch failed: timeout"},
		{"deferred", orchestrator.Event{Type: orchestrator.EventCompositionDeferred, Message: "waiting for 1 of 3 subgraphs"}, "WARN", "waiting for 1 of 3 subgraphs"},
		{"updated", orchestrator.Event{Type: orchestrator.EventSubgraphUpdated, Subgraph: "users"}, "INFO", "subgraph users changed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := logEntryFor(tt.ev)
			if got.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", got.Level, tt.wantLevel)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestDashboardLogIsBounded(t *testing.T) {
	d := NewDashboard("supergraph.yaml")
	for i := 0; i < maxLogs+50; i++ {
		send(d, orchestrator.Event{Type: orchestrator.EventRouterLog, Message: "line"})
	}
	if got := len(d.Logs()); got != maxLogs {
		t.Errorf("len(Logs()) = %d, want %d", got, maxLogs)
	}
}

func TestDashboardQuitAndDone(t *testing.T) {
	d := NewDashboard("supergraph.yaml")
	d.Update(DoneMsg{Err: errors.New("router exited")})
	if !strings.Contains(d.View(), "router exited") {
		t.Errorf("View() does not show the session error:\n%s", d.View())
	}

	_, cmd := d.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit the program")
	}
}
