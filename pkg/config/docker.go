package config

import (
	"os"
	"sync"
)

var containerCheck struct {
	once sync.Once
	in   bool
}

// IsRunningInDocker reports whether the process runs inside a container,
// detected by the /.dockerenv marker. The check hits the filesystem once.
func IsRunningInDocker() bool {
	containerCheck.once.Do(func() {
		_, err := os.Stat("/.dockerenv")
		containerCheck.in = err == nil
	})
	return containerCheck.in
}

// ResolveHostForDocker rewrites loopback hosts to host.docker.internal when
// running containerized, so a redis or neo4j instance on the host machine
// stays reachable with the same config file inside and outside Docker.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
