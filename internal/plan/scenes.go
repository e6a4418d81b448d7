package plan

import (
	"context"
	"errors"
	"fmt"
	"math"

	"hueplan/internal/hue"
	"hueplan/internal/schedule"
	"hueplan/internal/storage"
	"hueplan/pkg/logx"
)

const defaultSceneCollection = "stored_scenes"

// v2Collection names the sibling collection holding the v2 twin of each
// stored v1 scene.
func v2Collection(name string) string { return name + "_v2" }

func sceneCollection(name string) string {
	if name == "" {
		return defaultSceneCollection
	}
	return name
}

// ActionStoreScene resolves a bridge scene at apply time and stores it
// under StoreAs when run. Match by ID when set, otherwise by Name with an
// optional Group restriction. The v2 twin of the scene is stored alongside
// so sync_scene can diff individual lights later. With Activate (the
// default) the run also activates the scene, unless the group is entirely
// off.
type ActionStoreScene struct {
	StoreAs    string
	ID         string
	Name       string
	Group      string
	Activate   *bool
	Collection string
}

func (a ActionStoreScene) match(s hue.Scene) bool {
	if a.ID != "" {
		return s.ID == a.ID
	}
	if s.Name != a.Name {
		return false
	}
	return a.Group == "" || s.Group == a.Group
}

func (a ActionStoreScene) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.StoreAs == "" {
		return nil, errors.New("store_scene action: store_as is required")
	}
	if a.ID == "" && a.Name == "" {
		return nil, errors.New("store_scene action: id or name is required")
	}
	scenes, err := pc.Bridge.GetScenes(ctx)
	if err != nil {
		return nil, fmt.Errorf("store_scene action: list scenes: %w", err)
	}
	var scene *hue.Scene
	for i := range scenes {
		if a.match(scenes[i]) {
			scene = &scenes[i]
			break
		}
	}
	if scene == nil {
		return nil, fmt.Errorf("store_scene action: no scene matches id=%q name=%q group=%q", a.ID, a.Name, a.Group)
	}

	log := pc.logger().With(
		logx.String("scene_id", scene.ID),
		logx.String("scene_name", scene.Name),
	)

	// The v2 twin carries per-light settings the v1 API does not expose.
	// Missing twin is tolerated; sync_scene will warn at run time.
	var twin *hue.SceneV2
	if pc.BridgeV2 != nil {
		v2scenes, err := pc.BridgeV2.GetScenes(ctx)
		if err != nil {
			return nil, fmt.Errorf("store_scene action: list v2 scenes: %w", err)
		}
		wantIDV1 := "/scenes/" + scene.ID
		for i := range v2scenes {
			if v2scenes[i].IDV1 == wantIDV1 {
				twin = &v2scenes[i]
				break
			}
		}
		if twin == nil {
			log.Debug("scene has no v2 twin")
		}
	}

	coll := sceneCollection(a.Collection)
	activate := a.Activate == nil || *a.Activate
	return func(ctx context.Context) error {
		stored, err := pc.Store.Collection(ctx, coll)
		if err != nil {
			return err
		}
		if err := stored.Set(ctx, a.StoreAs, scene); err != nil {
			return err
		}
		if twin != nil {
			storedV2, err := pc.Store.Collection(ctx, v2Collection(coll))
			if err != nil {
				return err
			}
			if err := storedV2.Set(ctx, a.StoreAs, twin); err != nil {
				return err
			}
		}
		log.Debug("scene stored", logx.String("key", a.StoreAs))
		if !activate {
			return nil
		}
		group, err := pc.Bridge.GetGroup(ctx, scene.Group)
		if err != nil {
			return err
		}
		if !group.State.AnyOn {
			log.Info("scene not activated, group is off", logx.String("group", scene.Group))
			return nil
		}
		if err := pc.Bridge.ActivateScene(ctx, scene.Group, scene.ID, 0); err != nil {
			return err
		}
		log.Info("scene activated")
		return nil
	}, nil
}

// loadStoredScene reads a previously stored v1 scene. ok is false when the
// key was never set.
func loadStoredScene(ctx context.Context, store storage.Store, coll, key string) (hue.Scene, bool, error) {
	stored, err := store.Collection(ctx, coll)
	if err != nil {
		return hue.Scene{}, false, err
	}
	var scene hue.Scene
	if err := stored.Get(ctx, key, &scene); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return hue.Scene{}, false, nil
		}
		return hue.Scene{}, false, err
	}
	return scene, true, nil
}

// ActionToggleScene flips the stored scene's group: all lights on turns the
// group off, anything else turns it on with the scene applied.
type ActionToggleScene struct {
	Key        string
	Collection string
}

func (a ActionToggleScene) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.Key == "" {
		return nil, errors.New("toggle_scene action: key is required")
	}
	coll := sceneCollection(a.Collection)
	log := pc.logger()
	return func(ctx context.Context) error {
		scene, ok, err := loadStoredScene(ctx, pc.Store, coll, a.Key)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("cannot toggle scene, none stored yet", logx.String("key", a.Key))
			return nil
		}
		group, err := pc.Bridge.GetGroup(ctx, scene.Group)
		if err != nil {
			return err
		}
		var action hue.GroupAction
		on := !group.State.AllOn
		action.On = &on
		if on {
			action.Scene = scene.ID
			log.Info("turning group on with scene",
				logx.String("group", scene.Group), logx.String("scene", scene.ID))
		} else {
			log.Info("turning group off", logx.String("group", scene.Group))
		}
		return pc.Bridge.SendGroupAction(ctx, scene.Group, action)
	}, nil
}

// ActionActivateScene recalls a stored scene unconditionally.
type ActionActivateScene struct {
	Key        string
	Collection string
	// TransitionTime is in the bridge's native 100ms steps; 0 uses the
	// bridge default.
	TransitionTime int
}

func (a ActionActivateScene) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.Key == "" {
		return nil, errors.New("activate_scene action: key is required")
	}
	coll := sceneCollection(a.Collection)
	log := pc.logger()
	return func(ctx context.Context) error {
		scene, ok, err := loadStoredScene(ctx, pc.Store, coll, a.Key)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn("cannot activate scene, none stored yet", logx.String("key", a.Key))
			return nil
		}
		if err := pc.Bridge.ActivateScene(ctx, scene.Group, scene.ID, a.TransitionTime); err != nil {
			return err
		}
		log.Info("scene activated",
			logx.String("group", scene.Group), logx.String("scene", scene.ID))
		return nil
	}, nil
}

// Comparison tolerances for sync_scene: brightness is a percentage the
// bridge rounds, xy coordinates come back at slightly reduced precision.
const (
	brightnessTolerance = 0.5
	colorTolerance      = 0.0001
)

// settingsDiffer reports whether a light's current state deviates from the
// settings a scene action prescribes for it. Only features the scene
// actually sets are compared.
func settingsDiffer(log logx.Logger, light hue.LightV2, want hue.LightSettings) bool {
	if want.On != nil {
		lightOn := light.Dimming != nil && light.Dimming.Brightness > 0
		if want.On.On != lightOn {
			log.Debug("light differs: on state",
				logx.Bool("required", want.On.On), logx.Bool("current", lightOn))
			return true
		}
	}
	if want.Dimming != nil {
		if light.Dimming == nil ||
			math.Abs(want.Dimming.Brightness-light.Dimming.Brightness) > brightnessTolerance {
			log.Debug("light differs: brightness",
				logx.Float64("required", want.Dimming.Brightness))
			return true
		}
	}
	if want.ColorTemperature != nil && want.ColorTemperature.Mirek != nil {
		cur := light.ColorTemperature
		if cur == nil || cur.Mirek == nil || *cur.Mirek != *want.ColorTemperature.Mirek {
			log.Debug("light differs: mirek",
				logx.Int("required", *want.ColorTemperature.Mirek))
			return true
		}
	}
	if want.Color != nil && want.Color.XY != nil {
		cur := light.Color
		if cur == nil || cur.XY == nil ||
			math.Abs(want.Color.XY.X-cur.XY.X) > colorTolerance ||
			math.Abs(want.Color.XY.Y-cur.XY.Y) > colorTolerance {
			log.Debug("light differs: color xy",
				logx.Float64("required_x", want.Color.XY.X),
				logx.Float64("required_y", want.Color.XY.Y))
			return true
		}
	}
	// Gradient, effects and dynamics are not readable back from the
	// light, so a scene setting any of them always triggers an update.
	if len(want.Gradient) > 0 || len(want.Effects) > 0 || len(want.Dynamics) > 0 {
		log.Debug("light differs: gradient/effects/dynamics set")
		return true
	}
	return false
}

// ActionSyncScene pushes a stored scene's per-light settings to any light
// that drifted from them, via the v2 API. Lights already matching are left
// alone, so manual dimming inside the scene's envelope survives.
type ActionSyncScene struct {
	Key        string
	Collection string
}

func (a ActionSyncScene) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	if a.Key == "" {
		return nil, errors.New("sync_scene action: key is required")
	}
	if pc.BridgeV2 == nil {
		return nil, errors.New("sync_scene action: no v2 bridge configured")
	}
	coll := v2Collection(sceneCollection(a.Collection))
	log := pc.logger()
	return func(ctx context.Context) error {
		stored, err := pc.Store.Collection(ctx, coll)
		if err != nil {
			return err
		}
		var scene hue.SceneV2
		if err := stored.Get(ctx, a.Key, &scene); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Warn("cannot sync scene, none stored yet", logx.String("key", a.Key))
				return nil
			}
			return err
		}
		for _, sa := range scene.Actions {
			light, err := pc.BridgeV2.GetLight(ctx, sa.Target.RID)
			if err != nil {
				return fmt.Errorf("sync_scene action: light %s: %w", sa.Target.RID, err)
			}
			llog := log.With(
				logx.String("light", light.ID),
				logx.String("name", light.Metadata.Name),
			)
			if !settingsDiffer(llog, light, sa.Action) {
				llog.Debug("light matches scene, no update")
				continue
			}
			if err := pc.BridgeV2.UpdateLight(ctx, light.ID, sa.Action); err != nil {
				return fmt.Errorf("sync_scene action: update light %s: %w", light.ID, err)
			}
			llog.Info("light updated to scene settings")
		}
		return nil
	}, nil
}
