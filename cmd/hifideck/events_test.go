package main

import (
	"strings"
	"testing"
)

func TestUnmarshalEvent_Decodes(t *testing.T) {
	angle := 45.0
	tests := []struct {
		in   string
		want Event
	}{
		{`{"type":"media_play_pause"}`, MediaPlayPause{}},
		{`{"type":"media_next","data":{}}`, MediaNext{}},
		{`{"type":"knob_grab"}`, KnobGrab{}},
		{`{"type":"set_selector","data":{"value":48}}`, SetSelector{Value: 48}},
		{`{"type":"rotary_turn","data":{"steps":-3}}`, RotaryTurn{Steps: -3}},
		{`{"type":"select_track","data":{"index":4}}`, SelectTrack{Index: 4}},
		{`{"type":"set_volume","data":{"volume":35}}`, SetVolume{Volume: 35}},
		{`{"type":"volume_held","data":{"direction":1}}`, VolumeHeld{Direction: 1}},
		{`{"type":"toggle_flag","data":{"flag":"eq"}}`, ToggleFlag{Flag: FlagEQ}},
		{`{"type":"reload_catalog"}`, ReloadCatalog{}},
		{`{"type":"time_update","data":{"seconds":12.5,"source":"u"}}`, DeviceTimeUpdate{Seconds: 12.5, Source: "u"}},
		{`{"type":"ended","data":{"source":"u"}}`, DeviceEnded{Source: "u"}},
		{`{"type":"play_rejected","data":{"reason":"NotAllowedError"}}`, DevicePlayRejected{Reason: "NotAllowedError"}},
	}
	for _, tt := range tests {
		got, err := UnmarshalEvent([]byte(tt.in))
		if err != nil {
			t.Errorf("%s: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %#v, want %#v", tt.in, got, tt.want)
		}
	}

	ev, err := UnmarshalEvent([]byte(`{"type":"knob_move","data":{"angle":45}}`))
	if err != nil {
		t.Fatalf("knob_move: %v", err)
	}
	mv, ok := ev.(KnobMove)
	if !ok || mv.Angle == nil || *mv.Angle != angle || mv.angle() != angle {
		t.Fatalf("knob_move = %#v", ev)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"knob_move","data":{"dx":10,"dy":0}}`))
	if err != nil {
		t.Fatalf("knob_move: %v", err)
	}
	if got := ev.(KnobMove).angle(); got != PointerAngle(10, 0) {
		t.Fatalf("knob_move pointer angle = %v", got)
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`not json`, "unmarshal envelope"},
		{`{"type":"warp_drive"}`, "unknown event type"},
		{`{"type":"set_selector","data":{"value":101}}`, "out of range"},
		{`{"type":"set_volume","data":{"volume":-1}}`, "out of range"},
		{`{"type":"select_track","data":{"index":-2}}`, "negative index"},
		{`{"type":"volume_held","data":{"direction":2}}`, "direction"},
		{`{"type":"toggle_flag","data":{"flag":"loud"}}`, "unknown flag"},
		{`{"type":"set_volume","data":{"volume":"loud"}}`, "unmarshal set_volume"},
	}
	for _, tt := range tests {
		_, err := UnmarshalEvent([]byte(tt.in))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.in, err, tt.want)
		}
	}
}

func TestMarshalEvent_Envelope(t *testing.T) {
	b, err := MarshalEvent(MediaStop{})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if string(b) != `{"type":"media_stop"}` {
		t.Fatalf("got %s", b)
	}

	b, err = MarshalEvent(SetVolume{Volume: 42})
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	if string(b) != `{"type":"set_volume","data":{"volume":42}}` {
		t.Fatalf("got %s", b)
	}

	ev, err := UnmarshalEvent(b)
	if err != nil || ev != (SetVolume{Volume: 42}) {
		t.Fatalf("decode own output: %#v, %v", ev, err)
	}
}

func TestMarshalEvent_RejectsInternalEvents(t *testing.T) {
	for _, e := range []Event{
		Tick{},
		CatalogLoaded{},
		RequestStateSnapshot{},
	} {
		if _, err := MarshalEvent(e); err == nil {
			t.Errorf("MarshalEvent(%T) succeeded, want error", e)
		}
	}
}
