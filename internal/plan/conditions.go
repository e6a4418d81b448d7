package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hueplan/internal/storage"
)

// ConditionAnd holds when every sub-condition holds. Empty holds.
type ConditionAnd struct {
	Conditions []Condition
}

func (c ConditionAnd) Define(ctx context.Context, pc *Context) (Predicate, error) {
	preds, err := definePredicates(ctx, pc, c.Conditions)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (bool, error) {
		for _, p := range preds {
			ok, err := p(ctx)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}, nil
}

// ConditionOr holds when any sub-condition holds. Empty does not hold.
type ConditionOr struct {
	Conditions []Condition
}

func (c ConditionOr) Define(ctx context.Context, pc *Context) (Predicate, error) {
	preds, err := definePredicates(ctx, pc, c.Conditions)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (bool, error) {
		for _, p := range preds {
			ok, err := p(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

func definePredicates(ctx context.Context, pc *Context, conds []Condition) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(conds))
	for i, c := range conds {
		p, err := c.Define(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// ConditionStoredValue inspects a storage key. Without Equals it holds
// when the key exists; Missing inverts that. With Equals it holds when the
// stored value equals the given one (compared as canonical JSON).
type ConditionStoredValue struct {
	Collection string
	Key        string
	Equals     any
	Missing    bool
}

func (c ConditionStoredValue) Define(ctx context.Context, pc *Context) (Predicate, error) {
	if c.Collection == "" || c.Key == "" {
		return nil, errors.New("stored_value condition: collection and key are required")
	}
	if c.Missing && c.Equals != nil {
		return nil, errors.New("stored_value condition: missing and equals are mutually exclusive")
	}
	var want []byte
	if c.Equals != nil {
		b, err := json.Marshal(c.Equals)
		if err != nil {
			return nil, fmt.Errorf("stored_value condition: %w", err)
		}
		want = b
	}
	return func(ctx context.Context) (bool, error) {
		coll, err := pc.Store.Collection(ctx, c.Collection)
		if err != nil {
			return false, err
		}
		var got json.RawMessage
		err = coll.Get(ctx, c.Key, &got)
		if errors.Is(err, storage.ErrNotFound) {
			return c.Missing, nil
		}
		if err != nil {
			return false, err
		}
		if c.Missing {
			return false, nil
		}
		if want == nil {
			return true, nil
		}
		canon, err := canonicalJSON(got)
		if err != nil {
			return false, err
		}
		return bytes.Equal(canon, want), nil
	}, nil
}

// canonicalJSON re-marshals raw JSON so formatting differences do not
// defeat the comparison.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
