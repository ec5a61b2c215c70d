package ports

import (
	"fmt"
	"net"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// DefaultAttempts is how many consecutive ports FindAvailablePort probes.
const DefaultAttempts = 10

const maxPort = 65535

// PortExhaustionError is returned when no port in the probed range could be bound.
type PortExhaustionError struct {
	Start     int
	End       int
	HolderPID int32 // process listening on Start, 0 if unknown
}

func (e *PortExhaustionError) Error() string {
	msg := fmt.Sprintf("no available port in range %d-%d", e.Start, e.End)
	if e.HolderPID > 0 {
		msg += fmt.Sprintf(" (port %d held by PID %d)", e.Start, e.HolderPID)
	}
	return msg
}

// IsPortAvailable checks if a port is available for binding
func IsPortAvailable(port int) bool {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

// FindAvailablePort probes startPort and the following ports, attempts in total,
// and returns the first one that can be bound.
func FindAvailablePort(startPort, attempts int) (int, error) {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	end := min(startPort+attempts-1, maxPort)
	for port := startPort; port <= end; port++ {
		if IsPortAvailable(port) {
			return port, nil
		}
	}
	return 0, &PortExhaustionError{
		Start:     startPort,
		End:       end,
		HolderPID: HolderPID(startPort),
	}
}

// HolderPID returns the PID of the process listening on port.
// Returns 0 if no process is found or if the lookup fails.
func HolderPID(port int) int32 {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		return 0
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && int(c.Laddr.Port) == port && c.Pid > 0 {
			return c.Pid
		}
	}
	return 0
}

// LocalURL returns the loopback URL a dev server on port is reachable at.
func LocalURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
