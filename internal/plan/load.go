package plan

import (
	"bytes"
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"hueplan/internal/config"
)

// The on-disk plan format:
//
//	plan:
//	  - trigger: {type: once, args: {act_on: "@sunset - 30M"}}
//	    action:
//	      type: store_scene
//	      args: {store_as: evening, name: Relax}
//
// Each trigger/action/condition is a type name plus a type-specific args
// mapping. Unknown types and unknown arg fields are rejected.

type rawStep struct {
	Type string    `yaml:"type"`
	Args yaml.Node `yaml:"args"`
}

type rawEntry struct {
	Trigger rawStep `yaml:"trigger"`
	Action  rawStep `yaml:"action"`
}

type planFile struct {
	Plan []rawEntry `yaml:"plan"`
}

// Load reads and compiles a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse compiles plan YAML into a Plan.
func Parse(data []byte) (*Plan, error) {
	var pf planFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	p := &Plan{Entries: make([]Entry, 0, len(pf.Plan))}
	for i, raw := range pf.Plan {
		trigger, err := buildTrigger(raw.Trigger)
		if err != nil {
			return nil, fmt.Errorf("plan entry %d: %w", i, err)
		}
		action, err := buildAction(raw.Action)
		if err != nil {
			return nil, fmt.Errorf("plan entry %d: %w", i, err)
		}
		p.Entries = append(p.Entries, Entry{Trigger: trigger, Action: action})
	}
	return p, nil
}

// decodeArgs strictly decodes an args node into out. A missing args block
// leaves out at its zero value.
func decodeArgs(n yaml.Node, out any) error {
	if n.Kind == 0 {
		return nil
	}
	b, err := yaml.Marshal(&n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	return nil
}

func mergeTags(tag string, tags []string) []string {
	if tag == "" {
		return tags
	}
	return append([]string{tag}, tags...)
}

func buildTrigger(raw rawStep) (Trigger, error) {
	switch raw.Type {
	case "once":
		var a struct {
			ActOn       string   `yaml:"act_on"`
			Alias       string   `yaml:"alias"`
			Tag         string   `yaml:"tag"`
			Tags        []string `yaml:"tags"`
			ShiftIfLate bool     `yaml:"shift_if_late"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return TriggerOnce{
			ActOn:       a.ActOn,
			Alias:       a.Alias,
			Tags:        mergeTags(a.Tag, a.Tags),
			ShiftIfLate: a.ShiftIfLate,
		}, nil
	case "periodic":
		var a struct {
			Interval string   `yaml:"interval"`
			StartAt  string   `yaml:"start_at"`
			Alias    string   `yaml:"alias"`
			Tag      string   `yaml:"tag"`
			Tags     []string `yaml:"tags"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		interval, err := config.ParseDurationField("interval", a.Interval)
		if err != nil {
			return nil, err
		}
		return TriggerPeriodic{
			Interval: interval,
			StartAt:  a.StartAt,
			Alias:    a.Alias,
			Tags:     mergeTags(a.Tag, a.Tags),
		}, nil
	case "cron":
		var a struct {
			Spec  string   `yaml:"spec"`
			Alias string   `yaml:"alias"`
			Tag   string   `yaml:"tag"`
			Tags  []string `yaml:"tags"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return TriggerCron{Spec: a.Spec, Alias: a.Alias, Tags: mergeTags(a.Tag, a.Tags)}, nil
	case "immediately":
		return TriggerImmediately{}, nil
	case "on_button":
		var a struct {
			ResourceID string `yaml:"resource_id"`
			Action     string `yaml:"action"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return TriggerOnButton{ResourceID: a.ResourceID, Action: a.Action}, nil
	default:
		return nil, fmt.Errorf("unknown trigger type %q", raw.Type)
	}
}

func buildAction(raw rawStep) (Action, error) {
	switch raw.Type {
	case "log":
		var a struct {
			Level   string `yaml:"level"`
			Message string `yaml:"message"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionLog{Level: a.Level, Message: a.Message}, nil
	case "sequence":
		var items []rawStep
		if err := decodeArgs(raw.Args, &items); err != nil {
			return nil, err
		}
		actions := make([]Action, 0, len(items))
		for i, item := range items {
			sub, err := buildAction(item)
			if err != nil {
				return nil, fmt.Errorf("sequence item %d: %w", i, err)
			}
			actions = append(actions, sub)
		}
		return NewSequence(actions...), nil
	case "delay":
		var a struct {
			Delay  string  `yaml:"delay"`
			Action rawStep `yaml:"action"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		delay, err := config.ParseDurationField("delay", a.Delay)
		if err != nil {
			return nil, err
		}
		sub, err := buildAction(a.Action)
		if err != nil {
			return nil, err
		}
		return ActionDelay{Delay: delay, Action: sub}, nil
	case "run_if":
		var a struct {
			Condition rawStep `yaml:"condition"`
			Action    rawStep `yaml:"action"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		cond, err := buildCondition(a.Condition)
		if err != nil {
			return nil, err
		}
		sub, err := buildAction(a.Action)
		if err != nil {
			return nil, err
		}
		return ActionRunIf{Condition: cond, Action: sub}, nil
	case "store_scene":
		var a struct {
			StoreAs    string `yaml:"store_as"`
			ID         string `yaml:"id"`
			Name       string `yaml:"name"`
			Group      string `yaml:"group"`
			Activate   *bool  `yaml:"activate"`
			Collection string `yaml:"collection"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionStoreScene{
			StoreAs:    a.StoreAs,
			ID:         a.ID,
			Name:       a.Name,
			Group:      a.Group,
			Activate:   a.Activate,
			Collection: a.Collection,
		}, nil
	case "toggle_scene":
		var a struct {
			Key        string `yaml:"key"`
			Collection string `yaml:"collection"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionToggleScene{Key: a.Key, Collection: a.Collection}, nil
	case "activate_scene":
		var a struct {
			Key            string `yaml:"key"`
			Collection     string `yaml:"collection"`
			TransitionTime int    `yaml:"transition_time"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionActivateScene{Key: a.Key, Collection: a.Collection, TransitionTime: a.TransitionTime}, nil
	case "sync_scene":
		var a struct {
			Key        string `yaml:"key"`
			Collection string `yaml:"collection"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionSyncScene{Key: a.Key, Collection: a.Collection}, nil
	case "populate_geo_variables":
		var a struct {
			Collection string   `yaml:"collection"`
			Latitude   *float64 `yaml:"lat"`
			Longitude  *float64 `yaml:"lng"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionPopulateGeoVariables{Collection: a.Collection, Latitude: a.Latitude, Longitude: a.Longitude}, nil
	case "flush_db":
		var a struct {
			Collection string `yaml:"collection"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionFlushDB{Collection: a.Collection}, nil
	case "run_closest_schedule":
		var a struct {
			Strategy     string   `yaml:"strategy"`
			AllowOverlap bool     `yaml:"allow_overlap"`
			Tags         []string `yaml:"tags"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionRunClosestSchedule{
			Strategy:     RunStrategy(a.Strategy),
			AllowOverlap: a.AllowOverlap,
			Tags:         a.Tags,
		}, nil
	case "print_schedule":
		return ActionPrintSchedule{}, nil
	case "reapply_plan":
		var a struct {
			ResetSchedule  bool `yaml:"reset_schedule"`
			ResetListeners bool `yaml:"reset_listeners"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ActionReapplyPlan{ResetSchedule: a.ResetSchedule, ResetListeners: a.ResetListeners}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", raw.Type)
	}
}

func buildCondition(raw rawStep) (Condition, error) {
	switch raw.Type {
	case "and", "or":
		var items []rawStep
		if err := decodeArgs(raw.Args, &items); err != nil {
			return nil, err
		}
		conds := make([]Condition, 0, len(items))
		for i, item := range items {
			sub, err := buildCondition(item)
			if err != nil {
				return nil, fmt.Errorf("%s item %d: %w", raw.Type, i, err)
			}
			conds = append(conds, sub)
		}
		if raw.Type == "and" {
			return ConditionAnd{Conditions: conds}, nil
		}
		return ConditionOr{Conditions: conds}, nil
	case "stored_value":
		var a struct {
			Collection string `yaml:"collection"`
			Key        string `yaml:"key"`
			Equals     any    `yaml:"equals"`
			Missing    bool   `yaml:"missing"`
		}
		if err := decodeArgs(raw.Args, &a); err != nil {
			return nil, err
		}
		return ConditionStoredValue{Collection: a.Collection, Key: a.Key, Equals: a.Equals, Missing: a.Missing}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", raw.Type)
	}
}
