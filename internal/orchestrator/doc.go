// Package orchestrator wires a dev session together.
//
// A Session owns the three long-lived parts of `graphdev dev`:
//   - a watchset.Set running one watcher per manifest subgraph
//   - a compose.Coordinator that folds watcher events into composition
//     decisions, driven through a single message channel
//   - the router lifecycle, started on the first successful composition and
//     fed every later composed schema for hot reload
//
// A leader session may also accept follower processes over the local socket
// (see package ipc). Followers watch one subgraph each and forward it to the
// leader, which treats their messages exactly like local watcher events.
//
// Example usage:
//
//	s, err := orchestrator.New(orchestrator.RequiredConfig{
//		Manifest: m,
//		Composer: compose.NewBinaryRunner("supergraph", workdir, exec.NewRunner()),
//		Router:   settings,
//		Locator:  installer,
//	}, orchestrator.WithIPCAddress(addr))
//	if err != nil {
//		return err
//	}
//	go render(s.Events())
//	return s.Run(ctx)
package orchestrator
