package tools

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestListSortedByName(t *testing.T) {
	r := NewRegistry()
	list := r.List()

	if len(list) != 4 {
		t.Fatalf("expected 4 built-in tools, got %d", len(list))
	}
	want := []string{"calculate_math", "convert_currency", "get_current_time", "get_weather"}
	for i, tool := range list {
		if tool.Name != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, tool.Name, want[i])
		}
	}
}

func TestDeclarationsMatchCatalog(t *testing.T) {
	r := NewRegistry()
	decls := r.Declarations()
	catalog := r.Catalog()

	if len(decls) != len(catalog) {
		t.Fatalf("declarations %d != catalog %d", len(decls), len(catalog))
	}
	for i := range decls {
		if decls[i].Name != catalog[i].Name {
			t.Errorf("entry %d: declaration %q != catalog %q", i, decls[i].Name, catalog[i].Name)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "launch_rocket", nil)

	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Kind != KindUnknownTool {
		t.Errorf("Kind = %v, want KindUnknownTool", toolErr.Kind)
	}
}

func TestExecuteValidation(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"missing required", "get_weather", map[string]any{}},
		{"wrong type", "get_weather", map[string]any{"location": 42}},
		{"unexpected key", "get_weather", map[string]any{"location": "Paris", "zip": "75001"}},
		{"missing currency args", "convert_currency", map[string]any{"amount": 10.0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), tc.tool, tc.args)
			var toolErr *ToolError
			if !errors.As(err, &toolErr) {
				t.Fatalf("expected *ToolError, got %T", err)
			}
			if toolErr.Kind != KindInvalidArguments {
				t.Errorf("Kind = %v, want KindInvalidArguments", toolErr.Kind)
			}
		})
	}
}

func TestWeatherDeterministic(t *testing.T) {
	r := NewRegistry()
	args := map[string]any{"location": "Paris", "units": "celsius"}

	first, err := r.Execute(context.Background(), "get_weather", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := r.Execute(context.Background(), "get_weather", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if first["temperature"] != second["temperature"] {
		t.Errorf("temperature not stable: %v vs %v", first["temperature"], second["temperature"])
	}
	if first["condition"] != second["condition"] {
		t.Errorf("condition not stable: %v vs %v", first["condition"], second["condition"])
	}
	if first["location"] != "Paris" {
		t.Errorf("location = %v, want Paris", first["location"])
	}

	temp := first["temperature"].(int)
	if temp < -10 || temp > 35 {
		t.Errorf("celsius temperature %d out of range [-10, 35]", temp)
	}
}

func TestWeatherUnits(t *testing.T) {
	r := NewRegistry()

	celsius, err := r.Execute(context.Background(), "get_weather",
		map[string]any{"location": "Oslo", "units": "celsius"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	fahrenheit, err := r.Execute(context.Background(), "get_weather",
		map[string]any{"location": "Oslo", "units": "fahrenheit"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	c := celsius["temperature"].(int)
	f := fahrenheit["temperature"].(int)
	if f != c*9/5+32 {
		t.Errorf("fahrenheit %d does not correspond to celsius %d", f, c)
	}
}

func TestCalculate(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 2", 4},
		{"sqrt(16.0)", 4},
		{"sqrt(16)", 4},
		{"pow(2, 10)", 1024},
		{"max(3.0, 7.0)", 7},
		{"min(3.0, 7.0)", 3},
		{"abs(-5.0)", 5},
		{"sin(pi / 2.0)", 1},
		{"log(e)", 1},
		{"exp(0)", 1},
	}

	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			out, err := r.Execute(context.Background(), "calculate_math",
				map[string]any{"expression": tc.expr})
			if err != nil {
				t.Fatalf("Execute(%q): %v", tc.expr, err)
			}

			got := toNumber(out["result"])
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("result = %v, want %v", out["result"], tc.want)
			}
			if out["expression"] != tc.expr {
				t.Errorf("expression echo = %v, want %q", out["expression"], tc.expr)
			}
		})
	}
}

func TestCalculateErrors(t *testing.T) {
	r := NewRegistry()

	for _, expr := range []string{"2 +", "sqrt('four')", "undefined_fn(1)"} {
		t.Run(expr, func(t *testing.T) {
			_, err := r.Execute(context.Background(), "calculate_math",
				map[string]any{"expression": expr})
			var toolErr *ToolError
			if !errors.As(err, &toolErr) {
				t.Fatalf("expected *ToolError for %q, got %T", expr, err)
			}
			if toolErr.Kind != KindExecutionFailure {
				t.Errorf("Kind = %v, want KindExecutionFailure", toolErr.Kind)
			}
		})
	}
}

func TestClock(t *testing.T) {
	r := NewRegistry()

	out, err := r.Execute(context.Background(), "get_current_time",
		map[string]any{"timezone": "UTC"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, key := range []string{"current_time", "timestamp", "formatted", "day_of_week", "month"} {
		if _, ok := out[key]; !ok {
			t.Errorf("missing key %q in result", key)
		}
	}

	// Abbreviations map to IANA zones.
	if _, err := r.Execute(context.Background(), "get_current_time",
		map[string]any{"timezone": "PST"}); err != nil {
		t.Errorf("PST should resolve: %v", err)
	}

	// Defaults to UTC with no arguments.
	out, err = r.Execute(context.Background(), "get_current_time", map[string]any{})
	if err != nil {
		t.Fatalf("Execute with no args: %v", err)
	}
	if out["timezone"] != "UTC" {
		t.Errorf("default timezone = %v, want UTC", out["timezone"])
	}

	_, err = r.Execute(context.Background(), "get_current_time",
		map[string]any{"timezone": "Mars/Olympus_Mons"})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Kind != KindExecutionFailure {
		t.Errorf("expected execution failure for bogus timezone, got %v", err)
	}
}

func TestConvertCurrency(t *testing.T) {
	r := NewRegistry()

	out, err := r.Execute(context.Background(), "convert_currency", map[string]any{
		"amount":        100.0,
		"from_currency": "usd",
		"to_currency":   "eur",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if out["converted_amount"] != 85.0 {
		t.Errorf("converted_amount = %v, want 85", out["converted_amount"])
	}
	if out["from_currency"] != "USD" || out["to_currency"] != "EUR" {
		t.Errorf("currency codes not normalized: %v -> %v", out["from_currency"], out["to_currency"])
	}
	if out["exchange_rate"] != 0.85 {
		t.Errorf("exchange_rate = %v, want 0.85", out["exchange_rate"])
	}
}

func TestConvertCurrencyUnsupported(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "convert_currency", map[string]any{
		"amount":        10.0,
		"from_currency": "XYZ",
		"to_currency":   "USD",
	})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %T", err)
	}
	if toolErr.Kind != KindExecutionFailure {
		t.Errorf("Kind = %v, want KindExecutionFailure", toolErr.Kind)
	}
}
