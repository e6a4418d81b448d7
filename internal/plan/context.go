package plan

import (
	"context"
	"time"

	"hueplan/internal/eventbus"
	"hueplan/internal/geo"
	"hueplan/internal/hue"
	"hueplan/internal/listener"
	"hueplan/internal/schedule"
	"hueplan/internal/storage"
	"hueplan/internal/timeparse"
	"hueplan/pkg/logx"
)

// Bridge is the slice of the v1 client the plan actions use.
type Bridge interface {
	GetGroup(ctx context.Context, groupID string) (hue.Group, error)
	GetScenes(ctx context.Context) ([]hue.Scene, error)
	SendGroupAction(ctx context.Context, groupID string, action hue.GroupAction) error
	ActivateScene(ctx context.Context, groupID, sceneID string, transitionTime int) error
}

// BridgeV2 is the slice of the v2 client the plan actions use.
type BridgeV2 interface {
	GetLight(ctx context.Context, id string) (hue.LightV2, error)
	GetScenes(ctx context.Context) ([]hue.SceneV2, error)
	UpdateLight(ctx context.Context, id string, body any) error
}

// Context carries the collaborators plan triggers and actions are wired
// into. One Context lives for the whole process; Apply resets nothing on
// its own.
type Context struct {
	Scheduler *schedule.Scheduler
	Listener  *listener.Listener
	Bridge    Bridge
	BridgeV2  BridgeV2
	Store     storage.Store
	Bus       eventbus.Bus
	Location  *geo.Location
	Log       logx.Logger

	// VariablesCollection names the storage collection time expressions
	// resolve "@variable" references against.
	VariablesCollection string

	// current is the most recently applied plan, kept for reapply_plan.
	current *Plan
}

const defaultVariablesCollection = "geo_variables"

func (pc *Context) zone() *time.Location {
	if pc.Scheduler != nil {
		return pc.Scheduler.Location()
	}
	return time.Local
}

func (pc *Context) logger() logx.Logger {
	if pc.Log.IsZero() {
		return logx.Nop()
	}
	return pc.Log
}

// times builds a time expression parser over the variables collection.
func (pc *Context) times(ctx context.Context) (timeparse.Parser, error) {
	name := pc.VariablesCollection
	if name == "" {
		name = defaultVariablesCollection
	}
	vars, err := pc.Store.Collection(ctx, name)
	if err != nil {
		return timeparse.Parser{}, err
	}
	return timeparse.Parser{Loc: pc.zone(), Vars: vars}, nil
}
