// Package constants defines application-wide constants to avoid magic numbers
package constants

import "time"

// AppName names the binary, its XDG directories and its lock file.
const AppName = "hostfleet"

// Host paths used when running as root
const (
	// SystemConfigPath is the config file read by root when --config is not given
	SystemConfigPath = "/etc/hostfleet/config.toml"

	// SystemStateDir holds the timeline database and the host lock for root
	SystemStateDir = "/var/lib/hostfleet"

	// DefaultQuadletDir is where podman reads system quadlet files
	DefaultQuadletDir = "/etc/containers/systemd"
)

// Application defaults
const (
	// DefaultBaseDir is the application deployment root
	DefaultBaseDir = "/opt/onetimesecret"

	// DefaultImage is used when neither config nor IMAGE set one
	DefaultImage = "ghcr.io/onetimesecret/onetimesecret"

	// DefaultTag resolves through the CURRENT image alias
	DefaultTag = "current"

	// DatabaseFile is the timeline database file name inside the state dir
	DatabaseFile = "hostfleet.db"

	// LockFile is the host lock file name inside the state dir
	LockFile = "hostfleet.lock"

	// PackagesFile is the extra service package definitions file next to the config
	PackagesFile = "packages.yaml"
)

// File System Permissions
const (
	// DirPermissions is the standard directory permissions for hostfleet directories
	DirPermissions = 0755

	// FilePermissions is the standard file permissions for hostfleet config files
	FilePermissions = 0644

	// SecureFilePermissions is used for files containing sensitive data
	SecureFilePermissions = 0600
)

// Execution
const (
	// DefaultCommandTimeout bounds a single external command
	DefaultCommandTimeout = 2 * time.Minute

	// DefaultLockWait is how long a batch waits for another batch on the same host
	DefaultLockWait = 30 * time.Second

	// DefaultLogLines is the journal tail length for status and logs
	DefaultLogLines = 50
)

// HTTP Configuration
const (
	// DefaultListenAddr is the read-only API listen address
	DefaultListenAddr = "127.0.0.1:9470"

	// DefaultServerReadTimeout is the default server read timeout
	DefaultServerReadTimeout = 10 * time.Second

	// DefaultServerWriteTimeout is the default server write timeout
	DefaultServerWriteTimeout = 30 * time.Second

	// DefaultServerShutdownTimeout is the default server graceful shutdown timeout
	DefaultServerShutdownTimeout = 10 * time.Second

	// DefaultTimelineLimit caps timeline API responses without a limit
	DefaultTimelineLimit = 100

	// MaxTimelineLimit caps any timeline API response
	MaxTimelineLimit = 1000
)
