// Package hue talks to a Philips Hue bridge over both API generations: the
// v1 REST API for groups, scenes and lights, and the v2 CLIP API for the
// server-sent event stream.
package hue

import "encoding/json"

// GroupState summarizes the lights in a group.
type GroupState struct {
	AllOn bool `json:"all_on"`
	AnyOn bool `json:"any_on"`
}

// GroupAction is the body of a group action update. Pointer fields are
// omitted when nil so partial updates stay partial.
type GroupAction struct {
	On             *bool     `json:"on,omitempty"`
	Bri            *int      `json:"bri,omitempty"`
	Hue            *int      `json:"hue,omitempty"`
	Sat            *int      `json:"sat,omitempty"`
	CT             *int      `json:"ct,omitempty"`
	XY             []float64 `json:"xy,omitempty"`
	Effect         string    `json:"effect,omitempty"`
	Scene          string    `json:"scene,omitempty"`
	TransitionTime *int      `json:"transitiontime,omitempty"`
}

// Group is a v1 room or zone. The bridge keys groups by ID in the listing
// response; ID is filled in by the client.
type Group struct {
	ID     string      `json:"-"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Lights []string    `json:"lights"`
	State  GroupState  `json:"state"`
	Action GroupAction `json:"action"`
}

// Scene is a v1 scene. Group is the group the scene belongs to.
type Scene struct {
	ID     string   `json:"-"`
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Group  string   `json:"group"`
	Lights []string `json:"lights"`
}

// LightState is the v1 per-light state.
type LightState struct {
	On        bool `json:"on"`
	Bri       int  `json:"bri,omitempty"`
	Reachable bool `json:"reachable"`
}

// Light is a v1 light.
type Light struct {
	ID    string     `json:"-"`
	Name  string     `json:"name"`
	Type  string     `json:"type"`
	State LightState `json:"state"`
}

// Event is one frame from the v2 event stream. Data is the raw JSON array
// of resource changes; consumers decode the parts they care about.
type Event struct {
	ID   string
	Data json.RawMessage
}

// EventChange is a single resource change inside an event frame.
type EventChange struct {
	Type string           `json:"type"`
	Data []EventChangeRes `json:"data"`
}

// EventChangeRes carries the fields hueplan reacts to: button presses and
// on/off flips.
type EventChangeRes struct {
	ID     string `json:"id"`
	IDV1   string `json:"id_v1,omitempty"`
	Type   string `json:"type"`
	Button *struct {
		LastEvent string `json:"last_event"`
		Report    *struct {
			Event string `json:"event"`
		} `json:"button_report,omitempty"`
	} `json:"button,omitempty"`
	On *struct {
		On bool `json:"on"`
	} `json:"on,omitempty"`
}

// ButtonEvent returns the button press kind, preferring the button_report
// block newer bridge firmware sends over the legacy last_event field.
// Empty when the change is not a button press.
func (r EventChangeRes) ButtonEvent() string {
	if r.Button == nil {
		return ""
	}
	if r.Button.Report != nil && r.Button.Report.Event != "" {
		return r.Button.Report.Event
	}
	return r.Button.LastEvent
}

// Changes decodes the frame payload.
func (e Event) Changes() ([]EventChange, error) {
	var out []EventChange
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
