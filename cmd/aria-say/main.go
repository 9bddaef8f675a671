// aria-say publishes narration requests to a running ariad over NATS.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/airwavelabs/aria/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

const usage = `usage: aria-say <command> [flags]

commands:
  speak     -text "..." [-key k]                narrate one passage
  dialogue  [-script "..."] [-key k]            narrate a multi-host script (stdin when -script is empty)
  stop      discard pending narration
  clear     clear the playback queue
  persona   -name midnight                      switch persona (empty name clears it)
  enroll    -label x -sample f.wav [-style s]   enroll a voice: clone, or design when -style is set
  version   print version

all commands accept -servers (default: ` + nats.DefaultURL + `)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if os.Args[1] == "version" {
		fmt.Println(version)
		return
	}
	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd string, args []string) error {
	switch cmd {
	case "speak":
		fs := flag.NewFlagSet("speak", flag.ExitOnError)
		servers := serverFlag(fs)
		text := fs.String("text", "", "Text to narrate")
		key := fs.String("key", "", "Cache key")
		fs.Parse(args)
		if strings.TrimSpace(*text) == "" {
			return fmt.Errorf("speak requires -text")
		}
		return publish(*servers, protocol.SubjectSpeak, protocol.SpeakRequest{
			RequestID: uuid.NewString(),
			Text:      *text,
			CacheKey:  *key,
			Timestamp: time.Now().UTC(),
		})

	case "dialogue":
		fs := flag.NewFlagSet("dialogue", flag.ExitOnError)
		servers := serverFlag(fs)
		script := fs.String("script", "", "Dialogue script; reads stdin when empty")
		key := fs.String("key", "", "Cache key")
		fs.Parse(args)
		body := *script
		if body == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read script from stdin: %w", err)
			}
			body = string(data)
		}
		if strings.TrimSpace(body) == "" {
			return fmt.Errorf("dialogue requires a script")
		}
		return publish(*servers, protocol.SubjectDialogue, protocol.DialogueRequest{
			RequestID: uuid.NewString(),
			Script:    body,
			CacheKey:  *key,
			Timestamp: time.Now().UTC(),
		})

	case "stop":
		fs := flag.NewFlagSet("stop", flag.ExitOnError)
		servers := serverFlag(fs)
		fs.Parse(args)
		return publish(*servers, protocol.SubjectCtrlStop, protocol.ControlRequest{
			RequestID: uuid.NewString(),
			Timestamp: time.Now().UTC(),
		})

	case "clear":
		fs := flag.NewFlagSet("clear", flag.ExitOnError)
		servers := serverFlag(fs)
		fs.Parse(args)
		return publish(*servers, protocol.SubjectCtrlClear, protocol.ControlRequest{
			RequestID: uuid.NewString(),
			Timestamp: time.Now().UTC(),
		})

	case "persona":
		fs := flag.NewFlagSet("persona", flag.ExitOnError)
		servers := serverFlag(fs)
		name := fs.String("name", "", "Persona name; empty clears the active persona")
		fs.Parse(args)
		return publish(*servers, protocol.SubjectPersona, protocol.PersonaRequest{
			RequestID: uuid.NewString(),
			Name:      *name,
		})

	case "enroll":
		fs := flag.NewFlagSet("enroll", flag.ExitOnError)
		servers := serverFlag(fs)
		label := fs.String("label", "", "Label for the enrolled voice")
		sample := fs.String("sample", "", "Path to the reference audio sample")
		style := fs.String("style", "", "Style prompt; empty clones the sample instead")
		fs.Parse(args)
		if *label == "" || *sample == "" {
			return fmt.Errorf("enroll requires -label and -sample")
		}
		return publish(*servers, protocol.SubjectVoiceEnroll, protocol.VoiceEnrollRequest{
			RequestID:   uuid.NewString(),
			Label:       *label,
			SamplePath:  *sample,
			StylePrompt: *style,
		})

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func serverFlag(fs *flag.FlagSet) *string {
	return fs.String("servers", nats.DefaultURL, "NATS server URLs (comma separated)")
}

func publish(servers, subject string, payload any) error {
	conn, err := nats.Connect(servers, nats.Name("aria-say"), nats.Timeout(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return conn.Flush()
}
