package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverPlayerOverride(t *testing.T) {
	script := filepath.Join(t.TempDir(), "my-player")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	p, err := DiscoverPlayer(script + " --gain -3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Path != script {
		t.Fatalf("unexpected player path %q", p.Path)
	}
	if len(p.Args) != 2 || p.Args[0] != "--gain" || p.Args[1] != "-3" {
		t.Fatalf("override args not preserved: %v", p.Args)
	}
}

func TestDiscoverPlayerOverrideMissingBinary(t *testing.T) {
	if _, err := DiscoverPlayer("definitely-not-a-real-player-xyz"); err == nil {
		t.Fatal("expected error for missing override binary")
	}
}

func TestDiscoverPlayerNothingOnPath(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	if _, err := DiscoverPlayer(""); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("expected ErrNoPlayer, got %v", err)
	}
}

func TestDiscoverPlayerProbesKnownList(t *testing.T) {
	dir := t.TempDir()
	// Plant a fake aplay and make sure probing finds it.
	fake := filepath.Join(dir, "aplay")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write fake player: %v", err)
	}
	t.Setenv("PATH", dir)

	p, err := DiscoverPlayer("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Path != fake {
		t.Fatalf("expected fake aplay, got %q", p.Path)
	}
	if len(p.Args) != 1 || p.Args[0] != "-q" {
		t.Fatalf("expected aplay default args, got %v", p.Args)
	}
}

func TestPlayerCommandAppendsFile(t *testing.T) {
	p := &Player{Path: "/bin/echo", Args: []string{"-n"}}
	cmd := p.command(context.Background(), "/tmp/x.wav")
	if len(cmd.Args) != 3 || cmd.Args[2] != "/tmp/x.wav" {
		t.Fatalf("unexpected argv: %v", cmd.Args)
	}
}
