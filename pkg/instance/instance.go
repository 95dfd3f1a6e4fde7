package instance

import (
	"os"

	"github.com/angelmondragon/forestcarbon-backend/pkg/config"
	"github.com/angelmondragon/forestcarbon-backend/pkg/env"
)

// GetID identifies this worker replica in lock tokens and logs. It prefers
// FORESTCARBON_WORKER_ID, then HOSTNAME, then the kernel hostname.
func GetID() string {
	if id := env.First(config.EnvWorkerID, "HOSTNAME"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
