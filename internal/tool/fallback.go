package tool

import (
	"context"
	"log/slog"
)

// Fallback pairs an error predicate with an alternative capability. Chains
// are evaluated in priority order against the typed error of the failed
// attempt; there is no matching on error text.
type Fallback struct {
	Name  string
	Match func(err error) bool
	Run   Capability
}

// Chain executes a primary capability and, on failure, walks an ordered
// fallback list. The first fallback whose predicate matches the error is
// tried; its own failure continues the walk.
type Chain struct {
	Primary   Capability
	Fallbacks []Fallback
}

func (c Chain) Kind() Kind { return c.Primary.Kind() }

func (c Chain) Validate(params map[string]any) error {
	return c.Primary.Validate(params)
}

func (c Chain) Execute(ctx context.Context, params map[string]any) (Result, error) {
	res, err := c.Primary.Execute(ctx, params)
	if err == nil && res.Success {
		return res, nil
	}

	for _, fb := range c.Fallbacks {
		if err != nil && !fb.Match(err) {
			continue
		}
		slog.Info("trying fallback capability", "fallback", fb.Name)
		fres, ferr := fb.Run.Execute(ctx, params)
		if ferr == nil && fres.Success {
			fres.Warnings = append(fres.Warnings, "primary capability failed, used fallback: "+fb.Name)
			return fres, nil
		}
		err = ferr
	}

	return res, err
}
