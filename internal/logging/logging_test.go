package logging

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetupDebugEnablesDebugLevel(t *testing.T) {
	Setup(true)
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("level = %v, want DebugLevel", log.GetLevel())
	}
}

func TestSetupNonDebugUsesInfoLevel(t *testing.T) {
	Setup(false)
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("level = %v, want InfoLevel", log.GetLevel())
	}
}
