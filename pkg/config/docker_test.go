package config

import (
	"testing"
)

func TestResolveHostForDockerLeavesRemoteHostsAlone(t *testing.T) {
	// Non-loopback hosts pass through whether or not the test itself runs
	// in a container.
	for _, host := range []string{"redis.internal", "10.0.0.7", "host.docker.internal"} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want the host unchanged", host, got)
		}
	}
}

func TestResolveHostForDockerLoopback(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1"} {
		expected := host
		if IsRunningInDocker() {
			expected = "host.docker.internal"
		}
		if got := ResolveHostForDocker(host); got != expected {
			t.Errorf("ResolveHostForDocker(%q) = %q, want %q", host, got, expected)
		}
	}
}

func TestIsRunningInDockerIsStable(t *testing.T) {
	first := IsRunningInDocker()
	for i := 0; i < 3; i++ {
		if IsRunningInDocker() != first {
			t.Fatal("expected a cached, stable answer across calls")
		}
	}
}
