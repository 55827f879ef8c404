package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/arborhq/arbor/internal/platform"
)

// DatetimeTool reports the current time, optionally in a named location and
// custom layout.
type DatetimeTool struct {
	// now is replaceable for tests.
	now func() time.Time
}

func (t *DatetimeTool) Metadata() platform.ToolMetadata {
	return platform.ToolMetadata{
		Slug:        "datetime",
		Name:        "Date & Time",
		Description: "Returns the current date and time.",
		Version:     "1.0.0",
		Category:    "utility",
		Mode:        platform.ExecSync,
		InputSchema: []platform.ParamSpec{
			{Name: "timezone", Type: platform.TypeString, Default: "UTC", Description: "IANA timezone name."},
			{Name: "layout", Type: platform.TypeString, Default: time.RFC3339, Description: "Go time layout string."},
		},
		OutputSchema: []platform.ParamSpec{
			{Name: "formatted", Type: platform.TypeString, Required: true},
			{Name: "unix", Type: platform.TypeInteger, Required: true},
		},
	}
}

func (t *DatetimeTool) Execute(_ context.Context, params map[string]any, _ Context) (*platform.ToolResult, error) {
	tz, _ := StringParam(params, "timezone")
	layout, _ := StringParam(params, "layout")

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return platform.ToolFail(platform.ErrInvalidParams, fmt.Sprintf("unknown timezone %q", tz)), nil
	}

	nowFn := t.now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn().In(loc)

	return platform.ToolOK(map[string]any{
		"formatted": now.Format(layout),
		"unix":      now.Unix(),
	}), nil
}
