package tools

import (
	"context"
	"hash/fnv"
	"strings"

	"google.golang.org/genai"
)

// Demo conditions. Real weather lookup is out of scope; the tool exists
// to exercise the function-calling pipeline end to end.
var weatherConditions = []string{"sunny", "cloudy", "rainy", "snowy", "partly cloudy"}

func weatherTool() *Tool {
	return &Tool{
		Name:        "get_weather",
		Description: "Get current weather information for a specific location",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"location": {
					Type:        genai.TypeString,
					Description: "The city or location to get weather for",
				},
				"units": {
					Type:        genai.TypeString,
					Description: "Temperature units (celsius or fahrenheit)",
					Enum:        []string{"celsius", "fahrenheit"},
				},
			},
			Required: []string{"location"},
		},
		Handler: handleWeather,
	}
}

func handleWeather(ctx context.Context, args map[string]any) (map[string]any, error) {
	location, _ := args["location"].(string)
	units, _ := args["units"].(string)
	if units != "fahrenheit" {
		units = "celsius"
	}

	// Derive stable demo values from the location name so repeated
	// queries for the same place agree with each other.
	seed := locationSeed(location)

	temp := int(seed%46) - 10 // -10..35 °C
	if units == "fahrenheit" {
		temp = temp*9/5 + 32
	}

	return map[string]any{
		"location":    location,
		"temperature": temp,
		"units":       units,
		"condition":   weatherConditions[seed%uint64(len(weatherConditions))],
		"humidity":    30 + int(seed%61),
		"wind_speed":  int(seed % 26),
		"description": "Current weather in " + location,
	}, nil
}

func locationSeed(location string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(location))))
	return h.Sum64()
}
