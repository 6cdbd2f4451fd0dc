// Package instance names the running process for log correlation across
// worker and publisher replicas.
package instance

import "os"

// GetID returns this replica's identifier. Deployments set WORKER_ID per
// pod; when it is absent the hostname stands in.
func GetID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
