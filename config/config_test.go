package config

import (
	"testing"
	"time"
)

func TestRedisOptionsURL(t *testing.T) {
	opts, err := RedisOptions("redis://:secret@localhost:6380/2")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "secret" || opts.DB != 2 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestRedisOptionsAzureConnectionString(t *testing.T) {
	opts, err := RedisOptions("cache.example.net:6380,password=pw,ssl=True,abortConnect=False")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "cache.example.net:6380" {
		t.Fatalf("unexpected addr %s", opts.Addr)
	}
	if opts.Password != "pw" {
		t.Fatalf("unexpected password %s", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatal("expected tls config")
	}
}

func TestRedisOptionsEmpty(t *testing.T) {
	if _, err := RedisOptions("  "); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CFG_INT", "12")
	t.Setenv("CFG_BAD_INT", "x")
	t.Setenv("CFG_DUR", "90s")
	t.Setenv("CFG_NEG_DUR", "-1s")
	t.Setenv("CFG_BOOL", "true")
	t.Setenv("CFG_STR", "  value ")

	if got := Int("CFG_INT", 1); got != 12 {
		t.Fatalf("Int = %d", got)
	}
	if got := Int("CFG_BAD_INT", 7); got != 7 {
		t.Fatalf("Int fallback = %d", got)
	}
	if got := Duration("CFG_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("Duration = %v", got)
	}
	if got := Duration("CFG_NEG_DUR", time.Second); got != time.Second {
		t.Fatalf("Duration fallback = %v", got)
	}
	if !Bool("CFG_BOOL", false) {
		t.Fatal("Bool = false")
	}
	if got := String("CFG_STR", "def"); got != "value" {
		t.Fatalf("String = %q", got)
	}
	if got := String("CFG_UNSET_FOR_TEST", "def"); got != "def" {
		t.Fatalf("String default = %q", got)
	}
}

func TestRequireReportsMissing(t *testing.T) {
	t.Setenv("CFG_PRESENT", "1")
	vals, err := Require("CFG_PRESENT", "CFG_ABSENT_ONE", "CFG_ABSENT_TWO")
	if err == nil {
		t.Fatal("expected error")
	}
	if vals["CFG_PRESENT"] != "1" {
		t.Fatalf("expected present value, got %v", vals)
	}
	if got := err.Error(); got != "missing config: CFG_ABSENT_ONE, CFG_ABSENT_TWO" {
		t.Fatalf("unexpected error %q", got)
	}
}
