package cmd

import "testing"

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"serve": false, "probe": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestServeAddrFlag(t *testing.T) {
	f := serveCmd.Flags().Lookup("addr")
	if f == nil {
		t.Fatal("serve has no --addr flag")
	}
	if f.DefValue != "" {
		t.Errorf("addr default = %q, want empty (config wins)", f.DefValue)
	}
}

func TestNewLogger(t *testing.T) {
	if newLogger() == nil {
		t.Fatal("newLogger returned nil")
	}
}
