package config

import (
	"os"
	"strings"
	"sync"
)

// dockerHostAlias reaches services published on the Docker host.
const dockerHostAlias = "host.docker.internal"

var inDocker = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether the process runs inside a Docker
// container, based on /.dockerenv. The result is cached.
func IsRunningInDocker() bool {
	return inDocker()
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when
// running in Docker, so that an operator-supplied "localhost" reaches the
// Docker host rather than the container. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, docker bool) string {
	if !docker {
		return host
	}
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostAlias
	}
	return host
}
