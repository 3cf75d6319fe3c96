package shell

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesOutputAndCode(t *testing.T) {
	res, err := Run(context.Background(), 5*time.Second, "sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "out" {
		t.Errorf("stdout = %q", got)
	}
	if got := strings.TrimSpace(string(res.Stderr)); got != "err" {
		t.Errorf("stderr = %q", got)
	}
	if res.Code != 0 {
		t.Errorf("code = %d", res.Code)
	}
}

func TestRunNonzeroExit(t *testing.T) {
	res, err := Run(context.Background(), 5*time.Second, "sh", "-c", "exit 3")
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	if res.Code != 3 {
		t.Errorf("code = %d, want 3", res.Code)
	}
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), 50*time.Millisecond, "sleep", "5")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestStreamDeliversLines(t *testing.T) {
	var lines []string
	code, err := Stream(context.Background(), "sh", []string{"-c", "echo one; echo two 1>&2"}, func(l string) {
		lines = append(lines, l)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 0 {
		t.Errorf("code = %d", code)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
}

func TestStreamNonzeroExitIsToolError(t *testing.T) {
	code, err := Stream(context.Background(), "sh", []string{"-c", "exit 7"}, func(string) {})
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *ToolError", err)
	}
	if code != 7 || te.Code != 7 {
		t.Errorf("code = %d / %d, want 7", code, te.Code)
	}
}

func TestScanProgressLinesSplitsOnCarriageReturn(t *testing.T) {
	in := "12% done\r34% done\r56% done\nlast"
	sc := bufio.NewScanner(strings.NewReader(in))
	sc.Split(ScanProgressLines)
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	want := []string{"12% done", "34% done", "56% done", "last"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLookPathMissing(t *testing.T) {
	_, err := LookPath("definitely-not-a-real-tool-xyz")
	var me *MissingError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want *MissingError", err)
	}
	if !strings.Contains(me.Error(), "not found in PATH") {
		t.Errorf("message = %q", me.Error())
	}
}
