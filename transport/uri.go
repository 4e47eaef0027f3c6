package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// endpoint is a parsed amrpc transport URI: ipc://name or tcp://host:port.
type endpoint struct {
	scheme string
	target string
}

func parseURI(uri string) (endpoint, error) {
	parts := strings.SplitN(uri, "://", 2)
	if len(parts) != 2 || parts[1] == "" {
		return endpoint{}, fmt.Errorf("amrpc: malformed uri %q, want scheme://target", uri)
	}
	scheme := parts[0]
	switch scheme {
	case "ipc", "tcp":
		return endpoint{scheme: scheme, target: parts[1]}, nil
	default:
		return endpoint{}, fmt.Errorf("amrpc: unsupported uri scheme %q", scheme)
	}
}

// socketPath derives the unix-domain-socket path an ipc:// name maps to.
// Server and client share this helper so a Listen call and the matching
// Dial call agree on where to rendezvous.
func socketPath(name string) string {
	return filepath.Join(os.TempDir(), "amrpc-"+name+".sock")
}
