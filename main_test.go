package main

import (
	"testing"
)

func TestLoggerSetup(t *testing.T) {
	// init has already run by the time any test does
	if logger == nil {
		t.Error("expected a logger, received nil")
	}

	if sugar == nil {
		t.Error("expected a sugared logger, received nil")
	}
}
