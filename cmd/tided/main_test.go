package main

import "testing"

func TestRunBadFlag(t *testing.T) {
	if code := run([]string{"-definitely-not-a-flag"}); code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
}
