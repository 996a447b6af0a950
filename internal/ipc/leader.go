package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrLeaderExists means another session already serves the address.
var ErrLeaderExists = errors.New("a leader session is already running")

// TopologyError is a startup failure binding the leader address.
type TopologyError struct {
	Address string
	Err     error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("cannot lead on %s: %v", e.Address, e.Err)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// Suggestion is operator guidance for resolving the conflict.
func (e *TopologyError) Suggestion() string {
	return "use a different address with --ipc-address (or session.ipc_address), or join the running session with `graphdev dev --attach`"
}

// Handler answers follower requests.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req Request) Response { return f(ctx, req) }

// Leader accepts follower connections.
type Leader struct {
	address string
	ln      net.Listener
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// network splits an address into a net.Listen network and address. Paths
// and "unix:" prefixes are Unix sockets; anything else is TCP.
func network(address string) (string, string) {
	if rest, ok := strings.CutPrefix(address, "unix:"); ok {
		return "unix", rest
	}
	if strings.ContainsRune(address, '/') {
		return "unix", address
	}
	return "tcp", address
}

// Listen binds address after checking that no other leader answers on it.
// A stale Unix socket file left by a dead session is removed.
func Listen(address string, logger *slog.Logger) (*Leader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	netw, addr := network(address)

	if conn, err := net.DialTimeout(netw, addr, 500*time.Millisecond); err == nil {
		conn.Close()
		return nil, &TopologyError{Address: address, Err: ErrLeaderExists}
	}
	if netw == "unix" {
		if _, err := os.Stat(addr); err == nil {
			logger.Debug("removing stale socket", "path", addr)
			if err := os.Remove(addr); err != nil {
				return nil, &TopologyError{Address: address, Err: err}
			}
		}
	}

	ln, err := net.Listen(netw, addr)
	if err != nil {
		return nil, &TopologyError{Address: address, Err: err}
	}
	return &Leader{
		address: address,
		ln:      ln,
		logger:  logger.With("component", "ipc"),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound address.
func (l *Leader) Addr() string {
	if l.ln.Addr().Network() == "unix" {
		return l.address
	}
	return l.ln.Addr().String()
}

// Close releases the listener. Serve closes it too once its context is done;
// Close is for a leader that never served.
func (l *Leader) Close() error {
	err := l.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve accepts connections until ctx is done. It closes the listener and
// every open connection before returning.
func (l *Leader) Serve(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
		l.mu.Lock()
		for c := range l.conns {
			c.Close()
		}
		l.mu.Unlock()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept follower: %w", err)
		}
		l.mu.Lock()
		l.conns[conn] = struct{}{}
		l.mu.Unlock()
		if ctx.Err() != nil {
			conn.Close()
		}

		l.wg.Add(1)
		go l.serveConn(ctx, conn, h)
	}
}

func (l *Leader) serveConn(ctx context.Context, conn net.Conn, h Handler) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = Response{Type: ErrorNotification, Error: fmt.Sprintf("decode request: %v", err)}
		} else if err := req.Validate(); err != nil {
			resp = Response{Type: ErrorNotification, Error: err.Error()}
		} else {
			l.logger.Debug("follower request", "type", string(req.Type), "follower", req.Follower)
			resp = h.Handle(ctx, req)
		}

		data, err := encodeLine(resp)
		if err != nil {
			l.logger.Warn("encode response", "error", err)
			return
		}
		if _, err := conn.Write(data); err != nil {
			return
		}
	}
}
