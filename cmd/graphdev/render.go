package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/graphdev/internal/orchestrator"
	"github.com/ShayCichocki/graphdev/internal/router"
)

const (
	colorOK    = color.FgGreen
	colorWarn  = color.FgYellow
	colorError = color.FgRed
	colorInfo  = color.FgCyan
)

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// render prints operator-facing events until the stream closes.
func render(w io.Writer, events <-chan orchestrator.Event, listen string) {
	for ev := range events {
		symbol, attr, msg, ok := describe(ev, listen)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", color.New(attr).Sprint(symbol), msg)
	}
}

// describe turns an event into a status line. Events that only matter to
// logs report ok=false.
func describe(ev orchestrator.Event, listen string) (symbol string, attr color.Attribute, msg string, ok bool) {
	withErr := func(s string) string {
		if ev.Error != nil {
			return s + ": " + ev.Error.Error()
		}
		return s
	}

	switch ev.Type {
	case orchestrator.EventSubgraphLoaded:
		return "✓", colorOK, fmt.Sprintf("loaded subgraph %s", ev.Subgraph), true
	case orchestrator.EventSubgraphUpdated:
		return "↻", colorInfo, fmt.Sprintf("subgraph %s changed", ev.Subgraph), true
	case orchestrator.EventSubgraphFetchFailed:
		return "⚠", colorWarn, withErr(fmt.Sprintf("subgraph %s: %s", ev.Subgraph, ev.Message)), true
	case orchestrator.EventSubgraphEvicted:
		return "✗", colorError, withErr(fmt.Sprintf("subgraph %s removed from the supergraph", ev.Subgraph)), true
	case orchestrator.EventSubgraphRemoved:
		return "−", colorInfo, fmt.Sprintf("subgraph %s removed", ev.Subgraph), true
	case orchestrator.EventManifestReloaded:
		return "↻", colorInfo, withErr(ev.Message), true
	case orchestrator.EventRoutingURLChanged:
		return "↻", colorInfo, fmt.Sprintf("subgraph %s: %s", ev.Subgraph, ev.Message), true
	case orchestrator.EventCompositionSucceeded:
		return "✓", colorOK, "supergraph composed", true
	case orchestrator.EventCompositionFailed:
		msg := "composition failed; still serving the previous supergraph"
		if ev.Outcome != nil {
			lines := make([]string, 0, len(ev.Outcome.Errors))
			for _, be := range ev.Outcome.Errors {
				lines = append(lines, "    "+be.Error())
			}
			if len(lines) > 0 {
				msg += "\n" + strings.Join(lines, "\n")
			}
		} else if ev.Message != "" {
			msg += "\n    " + ev.Message
		}
		return "✗", colorError, msg, true
	case orchestrator.EventCompositionDeferred:
		return "…", colorWarn, ev.Message, true
	case orchestrator.EventCompositionHint:
		return "ℹ", colorInfo, "hint: " + ev.Message, true
	case orchestrator.EventFederationVersion:
		return "⚠", colorWarn, ev.Message, true
	case orchestrator.EventRouterHealthy:
		if listen == "" {
			return "✓", colorOK, "router is healthy", true
		}
		return "✓", colorOK, fmt.Sprintf("router is serving at http://%s", listen), true
	case orchestrator.EventRouterStage:
		if ev.Stage == router.StageInstall {
			return "●", colorInfo, "starting router", true
		}
		return "", 0, "", false
	case orchestrator.EventFollowerMessage:
		return "●", colorInfo, ev.Message, true
	case orchestrator.EventSessionDone:
		if ev.Error != nil {
			return "✗", colorError, withErr("session ended"), true
		}
		return "●", colorInfo, "session ended", true
	default:
		return "", 0, "", false
	}
}
