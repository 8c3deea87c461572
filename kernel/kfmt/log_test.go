package kfmt

import (
	"bytes"
	"strings"
	"testing"
)

func TestEarlyBufferFlush(t *testing.T) {
	defer SetOutputSink(nil)

	SetOutputSink(nil)
	Log("test").Info("buffered message")

	var buf bytes.Buffer
	SetOutputSink(&buf)

	got := buf.String()
	if !strings.Contains(got, "buffered message") || !strings.Contains(got, "module=test") {
		t.Fatalf("expected flushed output to contain the buffered entry; got %q", got)
	}

	buf.Reset()
	Log("vm").Warn("direct message")
	if got = buf.String(); !strings.Contains(got, "direct message") {
		t.Fatalf("expected output to be written directly to the sink; got %q", got)
	}
}

func TestSetLevel(t *testing.T) {
	defer func() {
		_ = SetLevel("info")
		SetOutputSink(nil)
	}()

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if err := SetLevel("warn"); err != nil {
		t.Fatal(err)
	}
	Log("test").Info("should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("expected info entries to be filtered; got %q", buf.String())
	}

	if err := SetLevel("bogus"); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
