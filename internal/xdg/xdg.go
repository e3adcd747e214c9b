// Package xdg provides XDG Base Directory Specification compliant paths
package xdg

import (
	"os"
	"path/filepath"

	"hostfleet/internal/constants"
)

// ConfigDir returns the XDG config directory for hostfleet
// Priority: XDG_CONFIG_HOME > ~/.config/hostfleet
func ConfigDir() (string, error) {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for hostfleet
// Priority: XDG_DATA_HOME > ~/.local/share/hostfleet
func DataDir() (string, error) {
	return dir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// StateDir returns the XDG state directory for hostfleet
// Priority: XDG_STATE_HOME > ~/.local/state/hostfleet
func StateDir() (string, error) {
	return dir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

func dir(env, fallback string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, constants.AppName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, fallback, constants.AppName), nil
}
