// Package env captures details about where a chfs-go server keeps its
// on-disk state by default.
package env

import "os"

// ChfsHome is the default parent directory for a server's backing store
// file, when no explicit -data path is given.
var ChfsHome = findChfsHome()

func findChfsHome() string {
	if v := os.Getenv("CHFS_HOME"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.chfs")
}
