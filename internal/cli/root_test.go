package cli

import "testing"

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"version", "connect"} {
		if !names[want] {
			t.Errorf("expected %q subcommand to be registered", want)
		}
	}
}

func TestFlagBindingDefaults(t *testing.T) {
	if got := v.GetInt("connect.port"); got != 443 {
		t.Errorf("connect.port default = %d, want 443", got)
	}
	if got := v.GetString("tls.backend"); got != "stdlib" {
		t.Errorf("tls.backend default = %q, want stdlib", got)
	}
}

func TestConnectRequiresHost(t *testing.T) {
	v.Set("connect.host", "")
	err := runConnect(connectCmd, nil)
	if err == nil {
		t.Error("expected error when no host is configured")
	}
}
