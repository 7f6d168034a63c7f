package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Common timezone abbreviations the model tends to produce, mapped to
// IANA names time.LoadLocation understands.
var tzAbbreviations = map[string]string{
	"EST": "America/New_York",
	"EDT": "America/New_York",
	"CST": "America/Chicago",
	"CDT": "America/Chicago",
	"MST": "America/Denver",
	"MDT": "America/Denver",
	"PST": "America/Los_Angeles",
	"PDT": "America/Los_Angeles",
	"GMT": "Etc/GMT",
	"BST": "Europe/London",
	"CET": "Europe/Paris",
	"IST": "Asia/Kolkata",
	"JST": "Asia/Tokyo",
}

func clockTool() *Tool {
	return &Tool{
		Name:        "get_current_time",
		Description: "Get current date and time information",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"timezone": {
					Type:        genai.TypeString,
					Description: "Timezone (IANA name like 'America/New_York', or 'UTC', 'EST', 'PST')",
				},
			},
		},
		Handler: handleClock,
	}
}

func handleClock(ctx context.Context, args map[string]any) (map[string]any, error) {
	tz, _ := args["timezone"].(string)
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = "UTC"
	}

	loc, err := loadLocation(tz)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(loc)
	return map[string]any{
		"current_time": now.Format(time.RFC3339),
		"timezone":     tz,
		"timestamp":    now.Unix(),
		"formatted":    now.Format("2006-01-02 15:04:05"),
		"day_of_week":  now.Weekday().String(),
		"month":        now.Month().String(),
	}, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if name, ok := tzAbbreviations[strings.ToUpper(tz)]; ok {
		tz = name
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", tz)
	}
	return loc, nil
}
