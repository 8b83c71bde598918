package internal

import (
	"os"
	"os/exec"
)

// UnbreakDocker attaches the current container to docker's default bridge
// network so integration tests running inside a dev container can reach the
// containers testcontainers starts. Outside a container this is a no-op.
func UnbreakDocker() {
	// XXX: This is a hack. It only exists so the valkey store test works from
	// a dev container, where the test container lands on a different network.
	if _, err := os.Stat("/.dockerenv"); err != nil {
		return
	}

	if hostname, err := os.Hostname(); err == nil {
		exec.Command("docker", "network", "connect", "bridge", hostname).Run()
	}
}
