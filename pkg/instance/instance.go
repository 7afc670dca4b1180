package instance

import (
	"os"
	"strings"
)

// ID identifies the running process in logs. WORKER_ID wins over the
// platform's DYNO name; without either the service kind is suffixed with -0.
func ID(kind string) string {
	for _, key := range []string{"WORKER_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if kind == "" {
		kind = "local"
	}
	return kind + "-0"
}
