package router

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Stream identifies which child stream a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of router output.
type Line struct {
	Stream Stream
	Text   string
}

// Process is a running router.
type Process interface {
	// Lines delivers output lines; it is closed when both streams end.
	Lines() <-chan Line
	// Exited is closed once the process has exited.
	Exited() <-chan struct{}
	// Wait blocks until exit and returns the exit error.
	Wait() error
	// Kill terminates the process. It is safe to call more than once.
	Kill() error
	PID() int
}

// Spawner starts router processes.
type Spawner interface {
	Spawn(binary string, args, env []string) (Process, error)
}

// ExecSpawner starts real child processes.
type ExecSpawner struct{}

var _ Spawner = ExecSpawner{}

// Spawn starts binary with env appended to the current environment.
func (ExecSpawner) Spawn(binary string, args, env []string) (Process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Env = append(os.Environ(), env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start router: %w", err)
	}

	p := &childProcess{
		cmd:    cmd,
		lines:  make(chan Line, 256),
		exited: make(chan struct{}),
		killed: make(chan struct{}),
	}
	var readers sync.WaitGroup
	readers.Add(2)
	go p.read(stdout, Stdout, &readers)
	go p.read(stderr, Stderr, &readers)
	go func() {
		readers.Wait()
		close(p.lines)
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

type childProcess struct {
	cmd     *exec.Cmd
	lines   chan Line
	exited  chan struct{}
	killed  chan struct{}
	kill    sync.Once
	waitErr error
}

func (p *childProcess) read(r io.Reader, stream Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		select {
		case p.lines <- Line{Stream: stream, Text: scanner.Text()}:
		case <-p.killed:
			// Keep draining so the child never blocks on a full pipe.
		}
	}
}

func (p *childProcess) Lines() <-chan Line      { return p.lines }
func (p *childProcess) Exited() <-chan struct{} { return p.exited }

func (p *childProcess) Wait() error {
	<-p.exited
	return p.waitErr
}

func (p *childProcess) Kill() error {
	var err error
	p.kill.Do(func() {
		close(p.killed)
		if p.cmd.Process != nil {
			err = p.cmd.Process.Kill()
		}
	})
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *childProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
