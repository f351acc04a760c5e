package server

import (
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml"
)

func TestDefaultConfigRoundTrip(t *testing.T) {
	def := DefaultConfig()
	data, err := toml.Marshal(def)
	if err != nil {
		t.Fatalf("marshal default config: %v", err)
	}
	var decoded UserConfig
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal default config: %v", err)
	}
	if decoded != def {
		t.Fatalf("config after round trip: got %+v, want %+v", decoded, def)
	}
}

func TestUserConfigConfig(t *testing.T) {
	uc := DefaultConfig()
	uc.Whitelist.File = filepath.Join(t.TempDir(), "whitelist.toml")
	uc.Players.MaxCount = 12

	conf, err := uc.Config(testLogger())
	if err != nil {
		t.Fatalf("convert user config: %v", err)
	}
	if conf.Name != "Basalt Server" {
		t.Errorf("name: got %q", conf.Name)
	}
	if conf.MaxPlayers != 12 {
		t.Errorf("max players: got %v, want 12", conf.MaxPlayers)
	}
	if conf.ViewDistance != 8 {
		t.Errorf("view distance: got %v, want 8", conf.ViewDistance)
	}
	if conf.JoinMessage.Zero() || conf.QuitMessage.Zero() {
		t.Error("join/quit messages disabled by default")
	}
	wl, ok := conf.Allower.(*Whitelist)
	if !ok {
		t.Fatalf("allower: got %T, want *Whitelist", conf.Allower)
	}
	if wl.Enabled() {
		t.Error("whitelist enforced without being enabled")
	}
}

func TestUserConfigDisableJoinQuitMessages(t *testing.T) {
	uc := DefaultConfig()
	uc.Whitelist.File = filepath.Join(t.TempDir(), "whitelist.toml")
	uc.Server.DisableJoinQuitMessages = true

	conf, err := uc.Config(testLogger())
	if err != nil {
		t.Fatalf("convert user config: %v", err)
	}
	if !conf.JoinMessage.Zero() || !conf.QuitMessage.Zero() {
		t.Error("join/quit messages still set after being disabled")
	}
}
