// Package playback owns the narration playback queue: a FIFO of
// synthesized artifacts drained one at a time through an external audio
// player process.
package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ErrNoPlayer means no usable audio player was found on PATH and none
// was configured.
var ErrNoPlayer = errors.New("no audio player found on PATH")

// Player is a resolved external audio player command. Args precede the
// artifact path.
type Player struct {
	Path string
	Args []string
}

// knownPlayers is the discovery probe order: macOS first, then the
// common Linux players.
var knownPlayers = []Player{
	{Path: "afplay"},
	{Path: "mpv", Args: []string{"--no-video", "--really-quiet"}},
	{Path: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
	{Path: "play", Args: []string{"-q"}},
	{Path: "aplay", Args: []string{"-q"}},
	{Path: "paplay"},
}

// DiscoverPlayer resolves the playback command once at startup. An
// explicit override is parsed shell-style and wins outright; otherwise
// the first known player present on PATH is used. No player at all is a
// hard error.
func DiscoverPlayer(override string) (*Player, error) {
	if strings.TrimSpace(override) != "" {
		parser := shellwords.NewParser()
		args, err := parser.Parse(override)
		if err != nil {
			return nil, fmt.Errorf("parse player command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("player command empty")
		}
		path, err := exec.LookPath(args[0])
		if err != nil {
			return nil, fmt.Errorf("player %q not found: %w", args[0], err)
		}
		return &Player{Path: path, Args: args[1:]}, nil
	}

	for _, candidate := range knownPlayers {
		path, err := exec.LookPath(candidate.Path)
		if err != nil {
			continue
		}
		return &Player{Path: path, Args: candidate.Args}, nil
	}
	return nil, ErrNoPlayer
}

// command builds the exec invocation for one artifact.
func (p *Player) command(ctx context.Context, file string) *exec.Cmd {
	args := append(append([]string{}, p.Args...), file)
	return exec.CommandContext(ctx, p.Path, args...)
}
