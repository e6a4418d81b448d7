package plan

import (
	"context"
	"errors"
	"sort"
	"time"

	"hueplan/internal/geo"
	"hueplan/internal/schedule"
	"hueplan/pkg/logx"
)

// ActionPopulateGeoVariables computes today's solar event times and writes
// them into the variables collection, replacing whatever a previous day
// left there. Plans run it immediately at apply time and again from the
// nightly re-apply so "@sunset"-style expressions track the calendar.
type ActionPopulateGeoVariables struct {
	// Collection overrides the context's variables collection.
	Collection string
	// Latitude/Longitude override the configured location.
	Latitude  *float64
	Longitude *float64
}

func (a ActionPopulateGeoVariables) location(pc *Context) (geo.Location, error) {
	if a.Latitude != nil && a.Longitude != nil {
		return geo.Location{
			Latitude:  *a.Latitude,
			Longitude: *a.Longitude,
			Loc:       pc.zone(),
			Log:       pc.logger(),
		}, nil
	}
	if pc.Location != nil {
		return *pc.Location, nil
	}
	return geo.Location{}, errors.New("populate_geo_variables action: no location configured and no lat/lng given")
}

func (a ActionPopulateGeoVariables) Define(ctx context.Context, pc *Context) (schedule.Task, error) {
	loc, err := a.location(pc)
	if err != nil {
		return nil, err
	}
	name := a.Collection
	if name == "" {
		name = pc.VariablesCollection
	}
	if name == "" {
		name = defaultVariablesCollection
	}
	log := pc.logger()
	return func(ctx context.Context) error {
		vars, err := pc.Store.Collection(ctx, name)
		if err != nil {
			return err
		}
		if err := vars.Clear(ctx); err != nil {
			return err
		}
		now := time.Now().In(pc.zone())
		events := loc.Variables(now)
		names := make([]string, 0, len(events))
		for k := range events {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if err := vars.Set(ctx, k, events[k]); err != nil {
				return err
			}
			log.Info("solar variable set",
				logx.String("name", k), logx.Time("at", events[k]))
		}
		return nil
	}, nil
}
