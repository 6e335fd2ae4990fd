package ioutil

import (
	"bytes"
	"testing"
)

func TestCappedRead(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 10)
	got, err := CappedRead(bytes.NewReader(data), 10)
	if err != nil {
		t.Fatalf("CappedRead: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestCappedReadExceedsLimit(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 11)
	if _, err := CappedRead(bytes.NewReader(data), 10); err == nil {
		t.Fatalf("expected limit error")
	}
}
