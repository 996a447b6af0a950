// Package tui provides the read-only terminal dashboard for `graphdev dev --tui`.
//
// The dashboard shows:
//   - Every subgraph with its state and routing URL
//   - The latest composition outcome and its errors
//   - Router stage and health
//   - A scrollable activity log, including router output
//
// Users can scroll the log with the arrow keys and quit with 'q' or Ctrl+C.
//
// Usage:
//
//	program, _ := tui.NewDashboardProgram("supergraph.yaml")
//	go tui.Forward(program, session.Events())
//	if _, err := program.Run(); err != nil {
//	    return err
//	}
//
// Forward sends a DoneMsg once the event stream closes.
package tui
