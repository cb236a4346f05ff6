package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestNew(t *testing.T) {
	l, err := New("debug", "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", l.GetLevel())
	}
	if _, ok := l.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want JSON", l.Formatter)
	}

	if _, err := New("loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestPionFactoryScopesEntries(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.TraceLevel)

	pl := PionFactory(l).NewLogger("ice")
	pl.Warnf("candidate %d dropped", 3)
	pl.Trace("tick")

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Data["pion"] != "ice" {
		t.Errorf("scope field = %v, want ice", entries[0].Data["pion"])
	}
	if entries[0].Level != logrus.WarnLevel || entries[0].Message != "candidate 3 dropped" {
		t.Errorf("unexpected entry: %v %q", entries[0].Level, entries[0].Message)
	}
	if entries[1].Level != logrus.TraceLevel {
		t.Errorf("second entry level = %v, want trace", entries[1].Level)
	}
}
