package plan

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"hueplan/internal/hue"
	"hueplan/internal/schedule"
	"hueplan/internal/storage"
	"hueplan/pkg/logx"
)

type sentAction struct {
	Group  string
	Action hue.GroupAction
}

type fakeBridge struct {
	scenes    []hue.Scene
	groups    map[string]hue.Group
	sent      []sentAction
	activated []string
}

func (f *fakeBridge) GetGroup(_ context.Context, id string) (hue.Group, error) {
	g, ok := f.groups[id]
	if !ok {
		return hue.Group{}, errors.New("no such group")
	}
	return g, nil
}

func (f *fakeBridge) GetScenes(context.Context) ([]hue.Scene, error) {
	return f.scenes, nil
}

func (f *fakeBridge) SendGroupAction(_ context.Context, id string, a hue.GroupAction) error {
	f.sent = append(f.sent, sentAction{Group: id, Action: a})
	return nil
}

func (f *fakeBridge) ActivateScene(_ context.Context, groupID, sceneID string, _ int) error {
	f.activated = append(f.activated, groupID+"/"+sceneID)
	return nil
}

type fakeBridgeV2 struct {
	scenes  []hue.SceneV2
	lights  map[string]hue.LightV2
	updated []string
}

func (f *fakeBridgeV2) GetLight(_ context.Context, id string) (hue.LightV2, error) {
	l, ok := f.lights[id]
	if !ok {
		return hue.LightV2{}, errors.New("no such light")
	}
	return l, nil
}

func (f *fakeBridgeV2) GetScenes(context.Context) ([]hue.SceneV2, error) {
	return f.scenes, nil
}

func (f *fakeBridgeV2) UpdateLight(_ context.Context, id string, _ any) error {
	f.updated = append(f.updated, id)
	return nil
}

func testContext(t *testing.T) (*Context, *fakeBridge, *fakeBridgeV2) {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	bridge := &fakeBridge{groups: map[string]hue.Group{}}
	bridgeV2 := &fakeBridgeV2{lights: map[string]hue.LightV2{}}
	pc := &Context{
		Scheduler: schedule.New(time.UTC, logx.Nop()),
		Bridge:    bridge,
		BridgeV2:  bridgeV2,
		Store:     store,
		Log:       logx.Nop(),
	}
	return pc, bridge, bridgeV2
}

func TestParsePlan(t *testing.T) {
	t.Parallel()
	src := `
plan:
  - trigger:
      type: once
      args: {act_on: "19:30", alias: evening, tag: scene}
    action:
      type: sequence
      args:
        - type: log
          args: {message: "evening scene"}
        - type: store_scene
          args: {store_as: current, name: Relax}
  - trigger:
      type: on_button
      args: {resource_id: abc, action: short_release}
    action:
      type: run_if
      args:
        condition:
          type: stored_value
          args: {collection: stored_scenes, key: current}
        action:
          type: toggle_scene
          args: {key: current}
  - trigger:
      type: periodic
      args: {interval: 30m, alias: sync}
    action:
      type: delay
      args:
        delay: 2s
        action:
          type: sync_scene
          args: {key: current}
`
	p, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(p.Entries))
	}
	once, ok := p.Entries[0].Trigger.(TriggerOnce)
	if !ok {
		t.Fatalf("entry 0 trigger = %T, want TriggerOnce", p.Entries[0].Trigger)
	}
	if once.ActOn != "19:30" || once.Alias != "evening" {
		t.Errorf("unexpected once trigger: %+v", once)
	}
	if len(once.Tags) != 1 || once.Tags[0] != "scene" {
		t.Errorf("tags = %v, want [scene]", once.Tags)
	}
	seq, ok := p.Entries[0].Action.(ActionSequence)
	if !ok || len(seq.Actions) != 2 {
		t.Fatalf("entry 0 action = %#v, want 2-item sequence", p.Entries[0].Action)
	}
	periodic, ok := p.Entries[2].Trigger.(TriggerPeriodic)
	if !ok || periodic.Interval != 30*time.Minute {
		t.Errorf("entry 2 trigger = %#v, want 30m periodic", p.Entries[2].Trigger)
	}
	delay, ok := p.Entries[2].Action.(ActionDelay)
	if !ok || delay.Delay != 2*time.Second {
		t.Errorf("entry 2 action = %#v, want 2s delay", p.Entries[2].Action)
	}
}

func TestParsePlanErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown trigger",
			src:  "plan:\n  - trigger: {type: hourly}\n    action: {type: print_schedule}\n",
			want: "unknown trigger",
		},
		{
			name: "unknown action",
			src:  "plan:\n  - trigger: {type: immediately}\n    action: {type: explode}\n",
			want: "unknown action",
		},
		{
			name: "unknown arg field",
			src:  "plan:\n  - trigger: {type: once, args: {act_on: \"10:00\", acton: oops}}\n    action: {type: print_schedule}\n",
			want: "args",
		},
		{
			name: "bad interval",
			src:  "plan:\n  - trigger: {type: periodic, args: {interval: soon}}\n    action: {type: print_schedule}\n",
			want: "interval",
		},
		{
			name: "unknown condition",
			src:  "plan:\n  - trigger: {type: immediately}\n    action: {type: run_if, args: {condition: {type: maybe}, action: {type: print_schedule}}}\n",
			want: "unknown condition",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestTriggerOnceRegistersTask(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()

	p := &Plan{Entries: []Entry{{
		Trigger: TriggerOnce{ActOn: "23:59", Alias: "late", Tags: []string{"scene"}},
		Action:  ActionLog{Message: "hi"},
	}}}
	if err := Apply(ctx, pc, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	tasks := pc.Scheduler.GetSchedule()
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if tasks[0].Alias != "late" {
		t.Errorf("alias = %q, want late", tasks[0].Alias)
	}
	if _, ok := tasks[0].Tags["scene"]; !ok {
		t.Errorf("tags = %v, want scene", tasks[0].Tags)
	}
}

func TestTriggerOnceDefaultAliasIsExpression(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	p := &Plan{Entries: []Entry{{
		Trigger: TriggerOnce{ActOn: "06:15"},
		Action:  ActionLog{Message: "hi"},
	}}}
	if err := Apply(context.Background(), pc, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := pc.Scheduler.GetSchedule()[0].Alias; got != "06:15" {
		t.Errorf("alias = %q, want 06:15", got)
	}
}

func TestTriggerImmediatelyRunsAtApply(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ran := false
	p := &Plan{Entries: []Entry{{
		Trigger: TriggerImmediately{},
		Action:  actionFunc(func(ctx context.Context) error { ran = true; return nil }),
	}}}
	if err := Apply(context.Background(), pc, p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !ran {
		t.Error("immediate action did not run at apply time")
	}
}

// actionFunc adapts a bare task for tests.
type actionFunc schedule.Task

func (f actionFunc) Define(context.Context, *Context) (schedule.Task, error) {
	return schedule.Task(f), nil
}

func TestTriggerOnButtonMatch(t *testing.T) {
	t.Parallel()
	trig := TriggerOnButton{ResourceID: "btn-1", Action: "short_release"}

	event := func(data string) hue.Event {
		return hue.Event{ID: "1", Data: json.RawMessage(data)}
	}
	tests := []struct {
		name string
		ev   hue.Event
		want bool
	}{
		{
			name: "matching press",
			ev:   event(`[{"type":"update","data":[{"id":"btn-1","type":"button","button":{"last_event":"short_release"}}]}]`),
			want: true,
		},
		{
			name: "button_report form",
			ev:   event(`[{"type":"update","data":[{"id":"btn-1","type":"button","button":{"button_report":{"event":"short_release"}}}]}]`),
			want: true,
		},
		{
			name: "wrong resource",
			ev:   event(`[{"type":"update","data":[{"id":"btn-2","type":"button","button":{"last_event":"short_release"}}]}]`),
			want: false,
		},
		{
			name: "wrong press kind",
			ev:   event(`[{"type":"update","data":[{"id":"btn-1","type":"button","button":{"last_event":"long_press"}}]}]`),
			want: false,
		},
		{
			name: "not a button",
			ev:   event(`[{"type":"update","data":[{"id":"btn-1","type":"light","on":{"on":true}}]}]`),
			want: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := trig.matches(tt.ev); got != tt.want {
				t.Errorf("matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActionStoreScene(t *testing.T) {
	t.Parallel()
	pc, bridge, bridgeV2 := testContext(t)
	ctx := context.Background()

	bridge.scenes = []hue.Scene{
		{ID: "s1", Name: "Relax", Group: "g1"},
		{ID: "s2", Name: "Focus", Group: "g1"},
	}
	bridge.groups["g1"] = hue.Group{ID: "g1", State: hue.GroupState{AnyOn: true}}
	bridgeV2.scenes = []hue.SceneV2{{ID: "v2-s1", IDV1: "/scenes/s1"}}

	task, err := ActionStoreScene{StoreAs: "current", Name: "Relax"}.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := task(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	scene, ok, err := loadStoredScene(ctx, pc.Store, "stored_scenes", "current")
	if err != nil || !ok {
		t.Fatalf("stored scene missing: ok=%v err=%v", ok, err)
	}
	if scene.ID != "s1" {
		t.Errorf("stored scene = %q, want s1", scene.ID)
	}
	if len(bridge.activated) != 1 || bridge.activated[0] != "g1/s1" {
		t.Errorf("activated = %v, want [g1/s1]", bridge.activated)
	}

	twins, err := pc.Store.Collection(ctx, "stored_scenes_v2")
	if err != nil {
		t.Fatal(err)
	}
	var twin hue.SceneV2
	if err := twins.Get(ctx, "current", &twin); err != nil {
		t.Fatalf("v2 twin not stored: %v", err)
	}
	if twin.ID != "v2-s1" {
		t.Errorf("twin = %q, want v2-s1", twin.ID)
	}
}

func TestActionStoreSceneGroupOffSkipsActivate(t *testing.T) {
	t.Parallel()
	pc, bridge, _ := testContext(t)
	ctx := context.Background()

	bridge.scenes = []hue.Scene{{ID: "s1", Name: "Relax", Group: "g1"}}
	bridge.groups["g1"] = hue.Group{ID: "g1", State: hue.GroupState{AnyOn: false}}

	task, err := ActionStoreScene{StoreAs: "current", ID: "s1"}.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := task(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(bridge.activated) != 0 {
		t.Errorf("scene activated for an off group: %v", bridge.activated)
	}
}

func TestActionStoreSceneNotFound(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	_, err := ActionStoreScene{StoreAs: "x", Name: "Nope"}.Define(context.Background(), pc)
	if err == nil {
		t.Fatal("expected error for missing scene")
	}
}

func TestActionToggleScene(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		state  hue.GroupState
		wantOn bool
	}{
		{name: "all on turns off", state: hue.GroupState{AllOn: true, AnyOn: true}, wantOn: false},
		{name: "partially on turns on", state: hue.GroupState{AllOn: false, AnyOn: true}, wantOn: true},
		{name: "all off turns on", state: hue.GroupState{}, wantOn: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pc, bridge, _ := testContext(t)
			ctx := context.Background()
			bridge.groups["g1"] = hue.Group{ID: "g1", State: tt.state}

			stored, err := pc.Store.Collection(ctx, "stored_scenes")
			if err != nil {
				t.Fatal(err)
			}
			if err := stored.Set(ctx, "current", hue.Scene{ID: "s1", Group: "g1"}); err != nil {
				t.Fatal(err)
			}

			task, err := ActionToggleScene{Key: "current"}.Define(ctx, pc)
			if err != nil {
				t.Fatalf("Define: %v", err)
			}
			if err := task(ctx); err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(bridge.sent) != 1 {
				t.Fatalf("sent %d actions, want 1", len(bridge.sent))
			}
			got := bridge.sent[0].Action
			if got.On == nil || *got.On != tt.wantOn {
				t.Fatalf("on = %v, want %v", got.On, tt.wantOn)
			}
			if tt.wantOn && got.Scene != "s1" {
				t.Errorf("scene = %q, want s1", got.Scene)
			}
			if !tt.wantOn && got.Scene != "" {
				t.Errorf("scene should be empty when turning off, got %q", got.Scene)
			}
		})
	}
}

func TestActionToggleSceneNothingStored(t *testing.T) {
	t.Parallel()
	pc, bridge, _ := testContext(t)
	ctx := context.Background()
	task, err := ActionToggleScene{Key: "current"}.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := task(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(bridge.sent) != 0 {
		t.Errorf("no action should be sent without a stored scene")
	}
}

func TestActionSyncScene(t *testing.T) {
	t.Parallel()
	pc, _, bridgeV2 := testContext(t)
	ctx := context.Background()

	mirek := 366
	scene := hue.SceneV2{
		ID: "v2-s1",
		Actions: []hue.SceneAction{
			{
				Target: hue.ResourceRef{RID: "l1", RType: "light"},
				Action: hue.LightSettings{Dimming: &hue.Dimming{Brightness: 80}},
			},
			{
				Target: hue.ResourceRef{RID: "l2", RType: "light"},
				Action: hue.LightSettings{ColorTemperature: &hue.ColorTemperature{Mirek: &mirek}},
			},
		},
	}
	// l1 drifted, l2 already matches.
	bridgeV2.lights["l1"] = hue.LightV2{ID: "l1", Dimming: &hue.Dimming{Brightness: 40}}
	bridgeV2.lights["l2"] = hue.LightV2{ID: "l2", ColorTemperature: &hue.ColorTemperature{Mirek: &mirek}}

	stored, err := pc.Store.Collection(ctx, "stored_scenes_v2")
	if err != nil {
		t.Fatal(err)
	}
	if err := stored.Set(ctx, "current", scene); err != nil {
		t.Fatal(err)
	}

	task, err := ActionSyncScene{Key: "current"}.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := task(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(bridgeV2.updated) != 1 || bridgeV2.updated[0] != "l1" {
		t.Errorf("updated = %v, want [l1]", bridgeV2.updated)
	}
}

func TestSettingsDiffer(t *testing.T) {
	t.Parallel()
	log := logx.Nop()
	on := hue.OnOff{On: true}
	tests := []struct {
		name  string
		light hue.LightV2
		want  hue.LightSettings
		diff  bool
	}{
		{
			name:  "on required but off",
			light: hue.LightV2{Dimming: &hue.Dimming{Brightness: 0}},
			want:  hue.LightSettings{On: &on},
			diff:  true,
		},
		{
			name:  "on and bright",
			light: hue.LightV2{Dimming: &hue.Dimming{Brightness: 50}},
			want:  hue.LightSettings{On: &on},
			diff:  false,
		},
		{
			name:  "brightness inside tolerance",
			light: hue.LightV2{Dimming: &hue.Dimming{Brightness: 80.3}},
			want:  hue.LightSettings{Dimming: &hue.Dimming{Brightness: 80}},
			diff:  false,
		},
		{
			name:  "brightness outside tolerance",
			light: hue.LightV2{Dimming: &hue.Dimming{Brightness: 70}},
			want:  hue.LightSettings{Dimming: &hue.Dimming{Brightness: 80}},
			diff:  true,
		},
		{
			name:  "color drift",
			light: hue.LightV2{Color: &hue.ColorData{XY: &hue.XY{X: 0.31, Y: 0.32}}},
			want:  hue.LightSettings{Color: &hue.ColorData{XY: &hue.XY{X: 0.4, Y: 0.32}}},
			diff:  true,
		},
		{
			name:  "gradient always updates",
			light: hue.LightV2{},
			want:  hue.LightSettings{Gradient: json.RawMessage(`{"points":[]}`)},
			diff:  true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := settingsDiffer(log, tt.light, tt.want); got != tt.diff {
				t.Errorf("settingsDiffer = %v, want %v", got, tt.diff)
			}
		})
	}
}

func TestActionRunIf(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()

	coll, err := pc.Store.Collection(ctx, "flags")
	if err != nil {
		t.Fatal(err)
	}

	runs := 0
	action := ActionRunIf{
		Condition: ConditionStoredValue{Collection: "flags", Key: "enabled"},
		Action:    actionFunc(func(ctx context.Context) error { runs++; return nil }),
	}
	task, err := action.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}

	if err := task(ctx); err != nil {
		t.Fatal(err)
	}
	if runs != 0 {
		t.Fatalf("action ran although key absent")
	}

	if err := coll.Set(ctx, "enabled", true); err != nil {
		t.Fatal(err)
	}
	if err := task(ctx); err != nil {
		t.Fatal(err)
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
}

func TestConditionStoredValue(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()

	coll, err := pc.Store.Collection(ctx, "vars")
	if err != nil {
		t.Fatal(err)
	}
	if err := coll.Set(ctx, "mode", "night"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cond ConditionStoredValue
		want bool
	}{
		{name: "exists", cond: ConditionStoredValue{Collection: "vars", Key: "mode"}, want: true},
		{name: "absent", cond: ConditionStoredValue{Collection: "vars", Key: "other"}, want: false},
		{name: "missing inverts", cond: ConditionStoredValue{Collection: "vars", Key: "other", Missing: true}, want: true},
		{name: "equals match", cond: ConditionStoredValue{Collection: "vars", Key: "mode", Equals: "night"}, want: true},
		{name: "equals mismatch", cond: ConditionStoredValue{Collection: "vars", Key: "mode", Equals: "day"}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pred, err := tt.cond.Define(ctx, pc)
			if err != nil {
				t.Fatalf("Define: %v", err)
			}
			got, err := pred(ctx)
			if err != nil {
				t.Fatalf("pred: %v", err)
			}
			if got != tt.want {
				t.Errorf("pred = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionContainers(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()

	coll, err := pc.Store.Collection(ctx, "vars")
	if err != nil {
		t.Fatal(err)
	}
	if err := coll.Set(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}

	set := ConditionStoredValue{Collection: "vars", Key: "a"}
	unset := ConditionStoredValue{Collection: "vars", Key: "b"}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{name: "and all hold", cond: ConditionAnd{Conditions: []Condition{set, set}}, want: true},
		{name: "and one fails", cond: ConditionAnd{Conditions: []Condition{set, unset}}, want: false},
		{name: "and empty holds", cond: ConditionAnd{}, want: true},
		{name: "or one holds", cond: ConditionOr{Conditions: []Condition{unset, set}}, want: true},
		{name: "or none holds", cond: ConditionOr{Conditions: []Condition{unset, unset}}, want: false},
		{name: "or empty fails", cond: ConditionOr{}, want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pred, err := tt.cond.Define(ctx, pc)
			if err != nil {
				t.Fatalf("Define: %v", err)
			}
			got, err := pred(ctx)
			if err != nil {
				t.Fatalf("pred: %v", err)
			}
			if got != tt.want {
				t.Errorf("pred = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSequenceStopsOnError(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()

	var order []string
	boom := errors.New("boom")
	seq := NewSequence(
		actionFunc(func(ctx context.Context) error { order = append(order, "a"); return nil }),
		actionFunc(func(ctx context.Context) error { order = append(order, "b"); return boom }),
		actionFunc(func(ctx context.Context) error { order = append(order, "c"); return nil }),
	)
	task, err := seq.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := task(ctx); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v, want [a b]", order)
	}
}

func TestNewSequenceFlattens(t *testing.T) {
	t.Parallel()
	inner := NewSequence(ActionLog{Message: "x"}, ActionLog{Message: "y"})
	outer := NewSequence(ActionLog{Message: "w"}, inner, ActionLog{Message: "z"})
	if len(outer.Actions) != 4 {
		t.Fatalf("got %d actions, want 4 after flattening", len(outer.Actions))
	}
}

func TestRunClosestSchedule(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var ran []string
	record := func(name string) schedule.Task {
		return func(ctx context.Context) error {
			ran = append(ran, name)
			return nil
		}
	}
	past := pc.Scheduler.Once(record("past"), schedule.TimeOfDayOf(now), schedule.TaskOptions{Alias: "past", Tags: []string{"scene"}})
	past.Schedule = schedule.Once{RunAt: now.Add(-2 * time.Hour)}
	future := pc.Scheduler.Once(record("future"), schedule.TimeOfDayOf(now), schedule.TaskOptions{Alias: "future", Tags: []string{"scene"}})
	future.Schedule = schedule.Once{RunAt: now.Add(2 * time.Hour)}

	run := func(t *testing.T, a ActionRunClosestSchedule) []string {
		t.Helper()
		ran = nil
		task, err := a.Define(ctx, pc)
		if err != nil {
			t.Fatalf("Define: %v", err)
		}
		if err := task(ctx); err != nil {
			t.Fatalf("run: %v", err)
		}
		return ran
	}

	if got := run(t, ActionRunClosestSchedule{Strategy: StrategyPrev}); len(got) != 1 || got[0] != "past" {
		t.Errorf("PREV ran %v, want [past]", got)
	}
	if got := run(t, ActionRunClosestSchedule{Strategy: StrategyNext}); len(got) != 1 || got[0] != "future" {
		t.Errorf("NEXT ran %v, want [future]", got)
	}
	// Tag filter excludes everything: the task tags must all be listed.
	if got := run(t, ActionRunClosestSchedule{Strategy: StrategyPrev, Tags: []string{"other"}}); len(got) != 0 {
		t.Errorf("tag-filtered run executed %v, want nothing", got)
	}
	if _, err := (ActionRunClosestSchedule{Strategy: "SIDEWAYS"}).Define(ctx, pc); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestRunClosestScheduleOverlap(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ran := false
	task := pc.Scheduler.Once(func(ctx context.Context) error { ran = true; return nil },
		schedule.TimeOfDayOf(now), schedule.TaskOptions{Alias: "only"})
	task.Schedule = schedule.Once{RunAt: now.Add(time.Hour)}

	// Nothing has occurred yet; PREV without overlap finds nothing.
	a := ActionRunClosestSchedule{Strategy: StrategyPrev}
	tsk, err := a.Define(ctx, pc)
	if err != nil {
		t.Fatal(err)
	}
	if err := tsk(ctx); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Fatal("PREV without overlap should not run a future-only task")
	}

	a.AllowOverlap = true
	tsk, err = a.Define(ctx, pc)
	if err != nil {
		t.Fatal(err)
	}
	if err := tsk(ctx); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("PREV with overlap should fall forward to the future task")
	}
}

func TestActionFlushDB(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()

	coll, err := pc.Store.Collection(ctx, "junk")
	if err != nil {
		t.Fatal(err)
	}
	if err := coll.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	task, err := ActionFlushDB{Collection: "junk"}.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := task(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	keys, err := coll.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Errorf("collection not flushed: %v", keys)
	}
}

func TestActionPopulateGeoVariables(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	ctx := context.Background()

	lat, lng := 52.37, 4.89
	task, err := ActionPopulateGeoVariables{Latitude: &lat, Longitude: &lng}.Define(ctx, pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	if err := task(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	vars, err := pc.Store.Collection(ctx, "geo_variables")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"dawn", "sunrise", "noon", "sunset", "dusk", "midnight"} {
		var at time.Time
		if err := vars.Get(ctx, name, &at); err != nil {
			t.Errorf("variable %s not stored: %v", name, err)
		}
	}

	// The parser must be able to resolve the stored variables.
	parser, err := pc.times(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse(ctx, "@sunset - 30M"); err != nil {
		t.Errorf("parse @sunset: %v", err)
	}
}

func TestActionPopulateGeoVariablesNoLocation(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	if _, err := (ActionPopulateGeoVariables{}).Define(context.Background(), pc); err == nil {
		t.Fatal("expected error without a location")
	}
}

func TestActionDelayRespectsCancel(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)

	a := ActionDelay{
		Delay:  time.Minute,
		Action: actionFunc(func(ctx context.Context) error { t.Error("wrapped action ran"); return nil }),
	}
	task, err := a.Define(context.Background(), pc)
	if err != nil {
		t.Fatalf("Define: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := task(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestApplyAbortsOnDefineError(t *testing.T) {
	t.Parallel()
	pc, _, _ := testContext(t)
	p := &Plan{Entries: []Entry{
		{Trigger: TriggerImmediately{}, Action: ActionLog{Level: "shout", Message: "x"}},
		{Trigger: TriggerOnce{ActOn: "10:00"}, Action: ActionLog{Message: "y"}},
	}}
	if err := Apply(context.Background(), pc, p); err == nil {
		t.Fatal("expected error from bad log level")
	}
	if got := len(pc.Scheduler.GetSchedule()); got != 0 {
		t.Errorf("later entries applied after failure: %d tasks", got)
	}
}
