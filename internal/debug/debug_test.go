package debug

import (
	"os"
	"testing"
)

func TestSetEnabled(t *testing.T) {
	SetEnabled(true)
	if !Enabled() {
		t.Fatal("expected Enabled() to be true")
	}
	SetEnabled(false)
	if Enabled() {
		t.Fatal("expected Enabled() to be false")
	}
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv("GEP_DEBUG", "true")
	t.Setenv("LOG_LEVEL", "")
	InitFromEnv()
	if !Enabled() {
		t.Fatal("expected GEP_DEBUG=true to enable debug")
	}

	os.Unsetenv("GEP_DEBUG")
	t.Setenv("LOG_LEVEL", "debug")
	InitFromEnv()
	if !Enabled() {
		t.Fatal("expected LOG_LEVEL=debug to enable debug")
	}

	t.Setenv("LOG_LEVEL", "info")
	InitFromEnv()
	if Enabled() {
		t.Fatal("expected LOG_LEVEL=info to leave debug disabled")
	}
}

func TestInitFromLogLevelOnlyAppliesWithoutEnvOverride(t *testing.T) {
	os.Unsetenv("GEP_DEBUG")
	os.Unsetenv("LOG_LEVEL")
	SetEnabled(false)

	InitFromLogLevel("debug")
	if !Enabled() {
		t.Fatal("expected InitFromLogLevel(\"debug\") to enable debug when no env var is set")
	}
}
