package browser

import (
	"context"
	"net"
	"slices"
	"testing"
)

func TestArgs(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 9333, ProfileDir: "/tmp/p"})
	args := l.args()
	for _, want := range []string{
		"--remote-debugging-port=9333",
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=/tmp/p",
		"--window-size=1280,800",
	} {
		if !slices.Contains(args, want) {
			t.Fatalf("args() = %v; missing %q", args, want)
		}
	}
	if args[len(args)-1] != "about:blank" {
		t.Fatalf("last arg = %q; want about:blank", args[len(args)-1])
	}
	if slices.Contains(args, "--headless=new") {
		t.Fatal("args() headless without Headless set")
	}

	l = NewLauncher(Config{Headless: true, WindowSize: "800,600"})
	args = l.args()
	if !slices.Contains(args, "--headless=new") || !slices.Contains(args, "--window-size=800,600") {
		t.Fatalf("args() = %v; want headless with custom size", args)
	}
}

func TestIsPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if !isPortInUse("127.0.0.1", port) {
		t.Fatal("isPortInUse() = false for a listening port")
	}
	ln.Close()
	if isPortInUse("127.0.0.1", port) {
		t.Fatal("isPortInUse() = true after close")
	}
}

func TestStopWithoutLaunch(t *testing.T) {
	l := NewLauncher(Config{})
	l.Stop()
	if l.Running() {
		t.Fatal("Running() = true without Launch")
	}
}

func TestExitedNilWithoutLaunch(t *testing.T) {
	l := NewLauncher(Config{})
	if l.Exited() != nil {
		t.Fatal("Exited() != nil without Launch")
	}
}

func TestWaitForCDPStopsWhenProcessExits(t *testing.T) {
	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: 1})
	exited := make(chan struct{})
	close(exited)
	if err := l.waitForCDP(context.Background(), exited); err != errExited {
		t.Fatalf("waitForCDP() = %v; want errExited", err)
	}
}

func TestLaunchSkipsWhenPortServed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLauncher(Config{CDPAddress: "127.0.0.1", CDPPort: port, Binary: "definitely-not-a-browser"})
	if err := l.Launch(context.Background()); err != nil {
		t.Fatalf("Launch() = %v; want nil when a browser already serves CDP", err)
	}
	if l.Running() {
		t.Fatal("Running() = true after skipped launch")
	}
}
