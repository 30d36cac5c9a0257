package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Language != "en-US" {
		t.Fatalf("expected default language, got %q", cfg.Engine.Language)
	}
	if cfg.Session.RecreateThreshold != 5 {
		t.Fatalf("expected default recreate threshold 5, got %d", cfg.Session.RecreateThreshold)
	}
	if cfg.Session.BaseEndDelayMS != 500 || cfg.Session.EndDelayCapMS != 3000 {
		t.Fatalf("unexpected end delay defaults: %+v", cfg.Session)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIVECAP_ENGINE_MODE", "exec")
	t.Setenv("LIVECAP_ENGINE_COMMAND", "recognizer --stream")
	t.Setenv("LIVECAP_ENGINE_LANGUAGE", "de-DE")
	t.Setenv("LIVECAP_SESSION_AUTO_RESTART", "false")
	t.Setenv("LIVECAP_SESSION_BASE_ERROR_DELAY_MS", "250")
	t.Setenv("LIVECAP_SESSION_ERROR_DELAY_CAP_MS", "2500")
	t.Setenv("LIVECAP_TRANSCRIPT_PATH", "./tmp.db")
	t.Setenv("LIVECAP_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LIVECAP_BUS_EMBEDDED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "recognizer --stream" {
		t.Fatalf("expected engine overrides, got %+v", cfg.Engine)
	}
	if cfg.Engine.Language != "de-DE" {
		t.Fatalf("expected language override, got %q", cfg.Engine.Language)
	}
	if cfg.Session.AutoRestart {
		t.Fatal("expected auto restart override false")
	}
	if cfg.Session.BaseErrorDelayMS != 250 || cfg.Session.ErrorDelayCapMS != 2500 {
		t.Fatalf("expected error delay overrides, got %+v", cfg.Session)
	}
	if cfg.Transcript.Path != "./tmp.db" {
		t.Fatalf("expected transcript path override, got %q", cfg.Transcript.Path)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
}

func TestValidateRejectsBadEngineMode(t *testing.T) {
	t.Setenv("LIVECAP_ENGINE_MODE", "cloud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for unknown engine mode")
	}
}

func TestValidateRejectsExecWithoutCommand(t *testing.T) {
	t.Setenv("LIVECAP_ENGINE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec mode without command")
	}
}

func TestValidateRejectsBadDelayCaps(t *testing.T) {
	t.Setenv("LIVECAP_SESSION_END_DELAY_CAP_MS", "100")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for cap below base delay")
	}
}
