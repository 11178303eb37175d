package config

import (
	"testing"
)

func TestResolveHost(t *testing.T) {
	tests := []struct {
		host     string
		docker   bool
		expected string
	}{
		{"localhost", true, "host.docker.internal"},
		{"LOCALHOST", true, "host.docker.internal"},
		{"127.0.0.1", true, "host.docker.internal"},
		{"::1", true, "host.docker.internal"},
		{"localhost", false, "localhost"},
		{"127.0.0.1", false, "127.0.0.1"},
		{"ep-cool-darkness-123456.us-east-2.aws.neon.tech", true, "ep-cool-darkness-123456.us-east-2.aws.neon.tech"},
		{"192.168.1.100", true, "192.168.1.100"},
		{"host.docker.internal", true, "host.docker.internal"},
	}

	for _, tt := range tests {
		if got := resolveHost(tt.host, tt.docker); got != tt.expected {
			t.Errorf("resolveHost(%q, %v) = %q, want %q", tt.host, tt.docker, got, tt.expected)
		}
	}
}

func TestResolveHostForDocker_RemoteHostsUnchanged(t *testing.T) {
	for _, host := range []string{"db.example.com", "10.0.0.5"} {
		if got := ResolveHostForDocker(host); got != host {
			t.Errorf("ResolveHostForDocker(%q) = %q, want unchanged", host, got)
		}
	}
}
