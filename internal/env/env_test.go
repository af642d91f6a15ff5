package env

import "testing"

func TestFindChfsHomePrefersEnvVar(t *testing.T) {
	t.Setenv("CHFS_HOME", "/tmp/custom-chfs")
	if got, want := findChfsHome(), "/tmp/custom-chfs"; got != want {
		t.Errorf("findChfsHome() = %q, want %q", got, want)
	}
}

func TestFindChfsHomeFallsBackToHome(t *testing.T) {
	t.Setenv("CHFS_HOME", "")
	t.Setenv("HOME", "/home/tester")
	if got, want := findChfsHome(), "/home/tester/.chfs"; got != want {
		t.Errorf("findChfsHome() = %q, want %q", got, want)
	}
}
