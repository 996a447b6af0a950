// Package subgraph turns declarative subgraph sources into running watchers.
//
// A Resolver maps a models.SubgraphSource onto one of four strategies:
//   - file: emits on start and after every write to the file (fsnotify, with a
//     stat-polling fallback when the directory cannot be watched)
//   - introspect: emits on start and on every poll interval
//   - registry: emits exactly once
//   - inline: emits exactly once
//
// A Watcher drives a Strategy and delivers Updates in emission order. Fetch
// failures are delivered as Updates carrying a *FetchError; they never stop
// the watcher.
package subgraph
