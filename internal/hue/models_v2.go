package hue

import "encoding/json"

// ResourceRef points at another v2 resource.
type ResourceRef struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

// Metadata is the shared name block of v2 resources.
type Metadata struct {
	Name string `json:"name"`
}

// OnOff is the v2 on/off feature.
type OnOff struct {
	On bool `json:"on"`
}

// Dimming is the v2 brightness feature, 0-100.
type Dimming struct {
	Brightness float64 `json:"brightness"`
}

// ColorTemperature carries the mirek value when the light is in CT mode.
type ColorTemperature struct {
	Mirek *int `json:"mirek,omitempty"`
}

// XY is a CIE color point.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ColorData is the v2 color feature.
type ColorData struct {
	XY *XY `json:"xy,omitempty"`
}

// LightSettings is the writable slice of a light's state. It appears both
// inside scene actions and as the body of a light update. Gradient, effects
// and dynamics are passed through untyped; the planner only needs to know
// whether they are set.
type LightSettings struct {
	On               *OnOff            `json:"on,omitempty"`
	Dimming          *Dimming          `json:"dimming,omitempty"`
	Color            *ColorData        `json:"color,omitempty"`
	ColorTemperature *ColorTemperature `json:"color_temperature,omitempty"`
	Gradient         json.RawMessage   `json:"gradient,omitempty"`
	Effects          json.RawMessage   `json:"effects,omitempty"`
	Dynamics         json.RawMessage   `json:"dynamics,omitempty"`
}

// LightV2 is a v2 light resource, trimmed to the features the planner
// compares against scene actions.
type LightV2 struct {
	ID               string            `json:"id"`
	IDV1             string            `json:"id_v1,omitempty"`
	Metadata         Metadata          `json:"metadata"`
	On               *OnOff            `json:"on,omitempty"`
	Dimming          *Dimming          `json:"dimming,omitempty"`
	Color            *ColorData        `json:"color,omitempty"`
	ColorTemperature *ColorTemperature `json:"color_temperature,omitempty"`
}

// SceneAction binds target light to the settings the scene applies to it.
type SceneAction struct {
	Target ResourceRef   `json:"target"`
	Action LightSettings `json:"action"`
}

// SceneV2 is a v2 scene resource. IDV1 links it back to its v1 twin as
// "/scenes/<v1 id>".
type SceneV2 struct {
	ID       string        `json:"id"`
	IDV1     string        `json:"id_v1,omitempty"`
	Metadata Metadata      `json:"metadata"`
	Group    ResourceRef   `json:"group"`
	Actions  []SceneAction `json:"actions"`
}
