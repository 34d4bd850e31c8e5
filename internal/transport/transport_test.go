package transport

import (
	"os"
	"testing"
)

func TestArgvLocal(t *testing.T) {
	got, err := argv(Options{Root: "/srv/data"}, "/usr/bin/sy")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/usr/bin/sy", "--server", "/srv/data"}
	if !equal(got, want) {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestArgvRemoteUsesShellCommand(t *testing.T) {
	got, err := argv(Options{Host: "host", ShellCommand: "ssh -p 2222", Root: "/srv/data"}, "sy")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ssh", "-p", "2222", "host", "--", "sy", "--server", "/srv/data"}
	if !equal(got, want) {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestArgvRemoteDefaultsToSSH(t *testing.T) {
	t.Setenv("RSYNC_RSH", "")
	got, err := argv(Options{Host: "host", Root: "/srv/data"}, "sy")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ssh", "host", "--", "sy", "--server", "/srv/data"}
	if !equal(got, want) {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestDefaultServerPathExplicitWins(t *testing.T) {
	got, err := defaultServerPath(Options{Host: "host", ServerPath: "/opt/custom/sy"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "/opt/custom/sy" {
		t.Errorf("defaultServerPath = %q, want %q", got, "/opt/custom/sy")
	}
}

func TestDefaultServerPathLocalUsesOwnExecutable(t *testing.T) {
	got, err := defaultServerPath(Options{})
	if err != nil {
		t.Fatal(err)
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	if got != exe {
		t.Errorf("defaultServerPath = %q, want own executable %q", got, exe)
	}
}

func TestDefaultServerPathRemoteIsBareName(t *testing.T) {
	got, err := defaultServerPath(Options{Host: "host"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "sy" {
		t.Errorf("defaultServerPath = %q, want bare name %q (the local executable's path would not exist on the remote host)", got, "sy")
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
