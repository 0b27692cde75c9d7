package configutil

import (
	"strings"
	"testing"
)

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	type dst struct {
		APIKey     string `mapstructure:"api_key"`
		SampleRate int    `mapstructure:"sample_rate"`
	}
	var out dst
	err := DecodeSettings(map[string]any{
		"API-Key":     "secret",
		"sample_rate": "24000",
	}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if out.APIKey != "secret" {
		t.Fatalf("api key not decoded: %+v", out)
	}
	if out.SampleRate != 24000 {
		t.Fatalf("weak typing failed: %+v", out)
	}
}

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	schema := Schema{
		Required: []string{"api_key"},
		Optional: []string{"model"},
	}
	err := ValidateSettings(map[string]any{
		"api_key": "",
		"bogus":   1,
	}, schema)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "missing: api_key") || !strings.Contains(msg, "unknown: bogus") {
		t.Fatalf("unexpected message %q", msg)
	}

	if err := ValidateSettings(map[string]any{"api_key": "x", "model": "m"}, schema); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}
}
