package config

import "testing"

func TestGetStringFallsBackToDefault(t *testing.T) {
	t.Setenv("BENCHORCH_TEST_STRING", "")
	if got := getString("BENCHORCH_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("getString() = %q, want %q", got, "fallback")
	}
}

func TestGetStringReadsEnv(t *testing.T) {
	t.Setenv("BENCHORCH_TEST_STRING", "set")
	if got := getString("BENCHORCH_TEST_STRING", "fallback"); got != "set" {
		t.Errorf("getString() = %q, want %q", got, "set")
	}
}

func TestGetIntInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("BENCHORCH_TEST_INT", "not-a-number")
	if got := getInt("BENCHORCH_TEST_INT", 7); got != 7 {
		t.Errorf("getInt() = %d, want 7", got)
	}
}

func TestGetIntReadsEnv(t *testing.T) {
	t.Setenv("BENCHORCH_TEST_INT", "42")
	if got := getInt("BENCHORCH_TEST_INT", 7); got != 42 {
		t.Errorf("getInt() = %d, want 42", got)
	}
}

func TestGetFloatReadsEnv(t *testing.T) {
	t.Setenv("BENCHORCH_TEST_FLOAT", "3.5")
	if got := getFloat("BENCHORCH_TEST_FLOAT", 1); got != 3.5 {
		t.Errorf("getFloat() = %v, want 3.5", got)
	}
}

func TestGetBoolReadsEnv(t *testing.T) {
	t.Setenv("BENCHORCH_TEST_BOOL", "false")
	if got := getBool("BENCHORCH_TEST_BOOL", true); got != false {
		t.Errorf("getBool() = %v, want false", got)
	}
}

func TestGetBoolInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("BENCHORCH_TEST_BOOL", "maybe")
	if got := getBool("BENCHORCH_TEST_BOOL", true); got != true {
		t.Errorf("getBool() = %v, want true", got)
	}
}

func TestLoadPopulatesNewInferenceFields(t *testing.T) {
	t.Setenv("INFERENCE_BASE_URL", "http://localhost:9000/v1")
	t.Setenv("INFERENCE_TOKEN", "secret")
	t.Setenv("HF_METADATA_BASE_URL", "http://metadata.local/api/models")

	cfg := Load()
	if cfg.InferenceBaseURL != "http://localhost:9000/v1" {
		t.Errorf("InferenceBaseURL = %q", cfg.InferenceBaseURL)
	}
	if cfg.InferenceToken != "secret" {
		t.Errorf("InferenceToken = %q", cfg.InferenceToken)
	}
	if cfg.HFMetadataBaseURL != "http://metadata.local/api/models" {
		t.Errorf("HFMetadataBaseURL = %q", cfg.HFMetadataBaseURL)
	}
	if cfg.TrustRemoteCode {
		t.Error("TrustRemoteCode must never be settable from the environment")
	}
}
