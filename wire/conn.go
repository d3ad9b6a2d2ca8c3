package wire

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"deedles.dev/tatami/internal/set"
)

// RuntimeDir returns the per-user runtime directory that holds the
// listening socket, from $XDG_RUNTIME_DIR with a fallback to the
// conventional location.
func RuntimeDir() string {
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if ok {
		return dir
	}
	return fmt.Sprintf("/var/run/user/%v", os.Getuid())
}

// SocketPath determines the path to the compositor's Unix domain
// socket based on the contents of the $TATAMI_DISPLAY environment
// variable. It does not attempt to determine if the value corresponds
// to an actual socket.
func SocketPath() string {
	v, ok := os.LookupEnv("TATAMI_DISPLAY")
	if !ok {
		v = "tatami-0"
	}
	if filepath.IsAbs(v) {
		return v
	}

	return filepath.Join(RuntimeDir(), v)
}

// NewSocketPath picks a path for a new listening socket by finding
// the first unused tatami-N ordinal in the runtime directory.
func NewSocketPath() (string, error) {
	dir := RuntimeDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	names := make(set.Set[int], len(entries))
	for _, ent := range entries {
		after, ok := strings.CutPrefix(ent.Name(), "tatami-")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(after, 10, 0)
		if err != nil {
			continue
		}
		names.Add(int(n))
	}

	var num int
	for names.Has(num) {
		num++
	}

	return filepath.Join(dir, fmt.Sprintf("tatami-%v", num)), nil
}

// Listen opens a listening socket for clients to connect to. If path
// is empty, a fresh path in the runtime directory is chosen.
func Listen(path string) (*net.UnixListener, string, error) {
	if path == "" {
		p, err := NewSocketPath()
		if err != nil {
			return nil, "", fmt.Errorf("pick socket path: %w", err)
		}
		path = p
	}

	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, "", err
	}
	return lis, path, nil
}

// Conn represents a low-level connection to a single client. It is
// not safe for concurrent use; the compositor reads from it on one
// goroutine and writes to it only from the event loop.
type Conn struct {
	conn *net.UnixConn
}

// NewConn creates a new Conn that wraps c. After this is called, use
// the provided Close method to close c instead of calling its own
// Close method.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{conn: c}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
