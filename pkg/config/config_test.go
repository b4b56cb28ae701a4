package config

import (
	"bytes"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	var out bytes.Buffer
	res := Parse(nil, &out)
	if res.ShouldExit {
		t.Fatalf("expected no exit for empty args")
	}
	if res.Config.ProxyPort != 8080 || res.Config.MgmtPort != 9090 {
		t.Fatalf("unexpected default ports: %+v", res.Config)
	}
	if !res.Config.DisectorsEnabled {
		t.Fatalf("expected disectors enabled by default")
	}
}

func TestParseOverridesFlags(t *testing.T) {
	var out bytes.Buffer
	res := Parse([]string{"-p", "9000", "-N", "--doh-ip", "9.9.9.9"}, &out)
	if res.ShouldExit {
		t.Fatalf("unexpected exit")
	}
	if res.Config.ProxyPort != 9000 {
		t.Fatalf("expected overridden proxy port, got %d", res.Config.ProxyPort)
	}
	if res.Config.DisectorsEnabled {
		t.Fatalf("expected -N to disable disectors")
	}
	if res.Config.DoH.IP != "9.9.9.9" {
		t.Fatalf("expected overridden DoH IP, got %s", res.Config.DoH.IP)
	}
}

func TestVersionFlagExitsOK(t *testing.T) {
	var out bytes.Buffer
	res := Parse([]string{"-v"}, &out)
	if !res.ShouldExit || res.ExitCode != ExitOK {
		t.Fatalf("expected -v to request a clean exit, got %+v", res)
	}
}

func TestUnknownFlagExitsWithArgError(t *testing.T) {
	var out bytes.Buffer
	res := Parse([]string{"-bogus"}, &out)
	if !res.ShouldExit || res.ExitCode != ExitArgError {
		t.Fatalf("expected an unknown flag to request ExitArgError, got %+v", res)
	}
}

func TestHelpFlagExitsOK(t *testing.T) {
	var out bytes.Buffer
	res := Parse([]string{"-h"}, &out)
	if !res.ShouldExit || res.ExitCode != ExitOK {
		t.Fatalf("expected -h to request a clean exit, got %+v", res)
	}
}
