package dialogue

import (
	"reflect"
	"testing"
)

func TestCompileKeepsOnlyLabeledLines(t *testing.T) {
	script := "Host 1: Hello\nHost 2: Hi there\nNot a line"

	lines := Compile(script, DefaultLabels())

	want := []Line{
		{Speaker: "Host 1", Text: "Hello"},
		{Speaker: "Host 2", Text: "Hi there"},
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("unexpected lines: %#v", lines)
	}
}

func TestCompileIsCaseInsensitive(t *testing.T) {
	lines := Compile("host 1: hey\nHOST 2: yo", DefaultLabels())

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Speaker != "Host 1" || lines[1].Speaker != "Host 2" {
		t.Fatalf("labels not canonicalized: %#v", lines)
	}
}

func TestCompileDropsUnknownSpeakers(t *testing.T) {
	script := "Narrator: setting the scene\nHost 1: actual line"

	lines := Compile(script, DefaultLabels())

	if len(lines) != 1 || lines[0].Speaker != "Host 1" {
		t.Fatalf("unknown speaker leaked through: %#v", lines)
	}
}

func TestCompileDropsMalformedLines(t *testing.T) {
	script := ": no label\nHost 1:\nHost 1 forgot the colon\n\n  \nHost 2: fine"

	lines := Compile(script, DefaultLabels())

	if len(lines) != 1 || lines[0].Text != "fine" {
		t.Fatalf("malformed lines leaked through: %#v", lines)
	}
}

func TestCompileAcceptsExtendedLabelSet(t *testing.T) {
	labels := append(DefaultLabels(), "midnight")

	lines := Compile("Midnight: welcome back\nHost 1: thanks", labels)

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Speaker != "midnight" {
		t.Fatalf("expected canonical label %q, got %q", "midnight", lines[0].Speaker)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	script := "Host 1: a\nHost 2: b\nHost 1: c"

	first := Compile(script, DefaultLabels())
	second := Compile(script, DefaultLabels())

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("compile not deterministic: %#v vs %#v", first, second)
	}
}
