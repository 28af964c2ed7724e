package main

import (
	"encoding/json"
	"testing"

	"hwbuttons/internal/buttons"
)

func TestMarshalUnmarshalEvent(t *testing.T) {
	events := []Event{
		ButtonPress{Line: 17},
		ButtonRelease{Line: 17},
		ButtonHold{Line: 4},
		ExecuteAction{ActionID: buttons.ActionCallURL, Context: buttons.AuxContext{URL: "http://host/x"}},
		SaveBindings{
			Timing:  buttons.DefaultTiming(),
			Buttons: []buttons.ButtonBinding{{ID: "a", GPIOPin: 5, ShortAction: buttons.ActionTriggerRefresh}},
		},
		Reload{},
		SetRefreshInfo{RefreshInfo: buttons.RefreshInfo{OwnerID: "clock", InstanceName: "big"}},
		ListActions{},
		GetState{},
	}

	for _, ev := range events {
		data, err := MarshalEvent(ev)
		if err != nil {
			t.Fatalf("MarshalEvent(%T): %v", ev, err)
		}
		got, err := UnmarshalEvent(data)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", data, err)
		}
		want, _ := json.Marshal(ev)
		have, _ := json.Marshal(got)
		if string(want) != string(have) {
			t.Fatalf("round trip %T: got %s, want %s", ev, have, want)
		}
	}
}

func TestUnmarshalEvent_WireFormat(t *testing.T) {
	ev, err := UnmarshalEvent([]byte(`{"type":"register_remote_actions","data":{"owner_id":"lights",` +
		`"anytime":[{"name":"toggle","label":"Toggle lights","url":"http://lights/toggle"}],` +
		`"display":[{"url":"http://lights/d0"},{"topic":"lights/d1"}]}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	reg, ok := ev.(RegisterRemoteActions)
	if !ok {
		t.Fatalf("got %T, want RegisterRemoteActions", ev)
	}
	if reg.OwnerID != "lights" || len(reg.Anytime) != 1 || len(reg.Display) != 2 {
		t.Fatalf("decoded %+v", reg.FeatureConfig)
	}
	if reg.Anytime[0].URL != "http://lights/toggle" || reg.Display[1].Topic != "lights/d1" {
		t.Fatalf("endpoints not decoded: %+v", reg.FeatureConfig)
	}

	ev, err = UnmarshalEvent([]byte(`{"type":"set_refresh_info","data":{"owner_id":"clock","instance":"big","refresh_kind":"Playlist","playlist":"night"}}`))
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	info := ev.(SetRefreshInfo).RefreshInfo
	if info.PlaylistName != "night" || info.RefreshKind != buttons.RefreshKindPlaylist {
		t.Fatalf("decoded %+v", info)
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"type":"explode"}`,
		`{"type":"press","data":{"line":"seventeen"}}`,
	} {
		if _, err := UnmarshalEvent([]byte(raw)); err == nil {
			t.Fatalf("UnmarshalEvent(%s) accepted", raw)
		}
	}
}
