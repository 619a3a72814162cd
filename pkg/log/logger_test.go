// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
)

func newTestLogger(prefix string) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := New(prefix)
	l.SetWriter(buf)
	l.SetColorize(false)
	return l, buf
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger("test")
	l.SetLevel(WARN)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Fatalf("suppressed levels leaked: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Fatalf("passing levels missing: %s", out)
	}
}

func TestTextFormat(t *testing.T) {
	l, buf := newTestLogger("motion")

	l.Info("position %d reached", 42)
	line := strings.TrimSpace(buf.String())

	if !strings.Contains(line, "INFO") {
		t.Fatalf("level missing: %s", line)
	}
	if !strings.Contains(line, "[motion]") {
		t.Fatalf("prefix missing: %s", line)
	}
	if !strings.Contains(line, "position 42 reached") {
		t.Fatalf("formatted message missing: %s", line)
	}
}

func TestJSONFormat(t *testing.T) {
	l, buf := newTestLogger("web")
	l.SetFormat(FormatJSON)

	l.WithField("client", 7).Warn("slow consumer")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not valid JSON: %v: %s", err, buf.String())
	}
	if entry["level"] != "WARN" || entry["component"] != "web" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["msg"] != "slow consumer" {
		t.Fatalf("msg = %v", entry["msg"])
	}
	if entry["client"].(float64) != 7 {
		t.Fatalf("field client = %v", entry["client"])
	}
}

func TestWithFieldsAndError(t *testing.T) {
	l, buf := newTestLogger("exec")

	l.WithFields(Fields{"cmd": "move", "target": 100}).Info("accepted")
	line := buf.String()
	if !strings.Contains(line, "cmd=move") || !strings.Contains(line, "target=100") {
		t.Fatalf("fields missing: %s", line)
	}

	buf.Reset()
	l.WithError(errors.New("port closed")).Error("write failed")
	if !strings.Contains(buf.String(), "error=port closed") {
		t.Fatalf("error field missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug": DEBUG, "INFO": INFO, "Warn": WARN,
		"warning": WARN, "error": ERROR, "bogus": INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGetLoggerReturnsSharedInstance(t *testing.T) {
	a := GetLogger("shared-component")
	b := GetLogger("shared-component")
	if a != b {
		t.Fatal("GetLogger returned distinct loggers for one component")
	}
}

func TestGlobalSettingsApplyToLaterLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	SetGlobalWriter(buf)
	SetGlobalLevel(ERROR)
	defer func() {
		SetGlobalLevel(INFO)
		SetGlobalWriter(os.Stderr)
	}()

	l := GetLogger("late-component")
	l.SetColorize(false)
	l.Warn("should not appear")
	l.Error("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Fatalf("global level not applied: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Fatalf("global writer not applied: %s", out)
	}
}

func TestWithPrefixChild(t *testing.T) {
	l, buf := newTestLogger("dmx")
	child := l.WithPrefix("translator")

	child.Info("mode change")
	if !strings.Contains(buf.String(), "[dmx.translator]") {
		t.Fatalf("child prefix missing: %s", buf.String())
	}
}
