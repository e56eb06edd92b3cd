// Package control implements the local control channel: a loopback TCP
// listener that accepts one instruction per connection and feeds it
// onto the shared event queue as an opaque control string (spec.md
// §4.5).
package control

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/swarmguard/schedulerd/internal/event"
)

// maxInstructionBytes bounds a single read, per spec.md §4.5's "≤ 1 KiB".
const maxInstructionBytes = 1024

// Stop is the one reserved instruction literal; anything else is
// interpreted by the task manager as a qualified task name to force-run.
const Stop = "stop"

// Listener binds a loopback TCP socket on an ephemeral port and relays
// every accepted instruction onto queue.
type Listener struct {
	ln    net.Listener
	queue *event.Queue
}

// Listen binds localhost:0 and returns the Listener with its assigned
// port. The caller is responsible for persisting Port() wherever
// clients discover it (the live config file, per spec.md §4.5).
func Listen(queue *event.Queue) (*Listener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, queue: queue}, nil
}

// Port reports the ephemeral port the listener is bound to.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each accepted connection is handed to handleConn on its own
// goroutine, which reads one instruction from it, echoes it and enqueues
// it.
func (l *Listener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				slog.Warn("control channel accept error", "error", err)
				return
			}
		}
		go l.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, maxInstructionBytes)
	n, err := conn.Read(buf)
	if err != nil {
		slog.Debug("control channel read error", "error", err)
		return
	}

	// Echo the bytes back verbatim as the client-side acknowledgement.
	if _, err := conn.Write(buf[:n]); err != nil {
		slog.Debug("control channel write error", "error", err)
		return
	}

	instruction := string(buf[:n])
	if instruction == "" {
		return
	}
	l.queue.Push(event.ControlString(instruction))
}

// Send connects to a control channel on the given port, writes the
// instruction, and waits for the echoed acknowledgement. Used by the CLI
// front-end's client-side send path.
func Send(port int, instruction string) (string, error) {
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(instruction)); err != nil {
		return "", err
	}

	buf := make([]byte, maxInstructionBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
