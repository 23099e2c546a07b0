package config

import (
	"os"
	"sync"
)

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// InDocker reports whether the process runs inside a Docker container,
// detected by the /.dockerenv marker. The check is performed once.
func InDocker() bool {
	inDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inDocker = err == nil
	})
	return inDocker
}

// ResolveHost rewrites loopback database hosts to host.docker.internal when
// the optimizer itself runs in a container, so a target database on the host
// machine stays reachable. Any other host passes through unchanged.
func (c *DatabaseConfig) ResolveHost() string {
	if !InDocker() {
		return c.Host
	}
	if c.Host == "localhost" || c.Host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return c.Host
}
