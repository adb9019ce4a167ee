package main

import (
	"strings"
	"testing"

	"gitlab.com/gomidi/midi/v2"
)

func TestTranslateMIDI(t *testing.T) {
	cfg := DefaultConfig().Input.MIDI

	tests := []struct {
		name string
		msg  midi.Message
		want Event
		ok   bool
	}{
		{"knob full", midi.ControlChange(0, 1, 127), SetSelector{Value: 100}, true},
		{"knob zero", midi.ControlChange(3, 1, 0), SetSelector{Value: 0}, true},
		{"volume", midi.ControlChange(0, 7, 64), SetVolume{Volume: 50}, true},
		{"unmapped cc", midi.ControlChange(0, 74, 64), nil, false},
		{"play pause", midi.NoteOn(0, 60, 100), MediaPlayPause{}, true},
		{"next", midi.NoteOn(9, 64, 1), MediaNext{}, true},
		{"hot", midi.NoteOn(0, 67, 90), ToggleFlag{Flag: FlagHot}, true},
		{"note on velocity zero is a release", midi.NoteOn(0, 60, 0), nil, false},
		{"note off", midi.NoteOff(0, 60), nil, false},
		{"unmapped note", midi.NoteOn(0, 20, 100), nil, false},
	}
	for _, tt := range tests {
		got, ok := translateMIDI(tt.msg, cfg)
		if ok != tt.ok || got != tt.want {
			t.Errorf("%s: got (%#v, %v), want (%#v, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTranslateMIDI_DisabledMapping(t *testing.T) {
	cfg := DefaultConfig().Input.MIDI
	cfg.KnobCC = -1
	cfg.Notes.Stop = -1

	if _, ok := translateMIDI(midi.ControlChange(0, 1, 64), cfg); ok {
		t.Fatalf("disabled knob CC still translated")
	}
	if _, ok := translateMIDI(midi.NoteOn(0, 61, 100), cfg); ok {
		t.Fatalf("disabled stop note still translated")
	}
}

func TestFilterMIDIInputs(t *testing.T) {
	names := []string{"Midi Through:Midi Through Port-0 14:0", "Arturia BeatStep:Arturia BeatStep MIDI 1 20:0", "Dummy MIDI"}
	got := filterMIDIInputs(names, DefaultConfig().Input.MIDI.Excluded)
	if len(got) != 1 || !strings.HasPrefix(got[0], "Arturia") {
		t.Fatalf("filtered = %v", got)
	}
}

func TestPickMIDIInput(t *testing.T) {
	inputs := []string{"nanoKONTROL2 MIDI 1", "Arturia BeatStep MIDI 1"}

	if got, ok := pickMIDIInput(inputs, []string{"beatstep", "nano"}); !ok || got != inputs[1] {
		t.Fatalf("preferred pick = %q, %v", got, ok)
	}
	if _, ok := pickMIDIInput(inputs, []string{"launchpad"}); ok {
		t.Fatalf("ambiguous inputs picked without a preference match")
	}
	if got, ok := pickMIDIInput(inputs[:1], nil); !ok || got != inputs[0] {
		t.Fatalf("single input pick = %q, %v", got, ok)
	}
	if _, ok := pickMIDIInput(nil, []string{"nano"}); ok {
		t.Fatalf("picked from no inputs")
	}
}
