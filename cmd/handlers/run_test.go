package handlers

import "testing"

func TestRunCmdFlags(t *testing.T) {
	cmd := NewRunCmd()
	for _, name := range []string{"once", "limit", "mode", "web", "dry-run", "concurrency"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("run command is missing the --%s flag", name)
		}
	}
}
