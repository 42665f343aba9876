package iocontext

import (
	"bytes"
	"context"
	"testing"
)

func TestWithIO(t *testing.T) {
	out := &bytes.Buffer{}
	ctx := WithIO(context.Background(), &IO{Out: out, ErrOut: &bytes.Buffer{}})

	if got := GetIO(ctx); got.Out != out {
		t.Error("GetIO should return the IO set with WithIO")
	}
}

func TestGetIO_DefaultsWhenNotSet(t *testing.T) {
	io := GetIO(context.Background())
	if io.Out == nil || io.ErrOut == nil || io.In == nil {
		t.Error("GetIO should return default streams when not set")
	}
}

func TestIsTerminal_Buffer(t *testing.T) {
	if (&IO{Out: &bytes.Buffer{}}).IsTerminal() {
		t.Error("a buffer is never a terminal")
	}
}
