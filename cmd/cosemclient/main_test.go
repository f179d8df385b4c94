package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsedate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2017-08-01.00:00:00", time.Date(2017, 8, 1, 0, 0, 0, 0, time.Local), true},
		{"2017-10-23.14:55:02", time.Date(2017, 10, 23, 14, 55, 2, 0, time.Local), true},
		{"2017-10-23 14:55:02", time.Time{}, false},
		{"yesterday", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsedate(tt.in)
			if !tt.ok {
				if err == nil {
					t.Errorf("parsedate() = %v, want error", got)
				}
				return
			}
			if err != nil || !got.Equal(tt.want) {
				t.Errorf("parsedate() = %v, %v, want %v", got, err, tt.want)
			}
		})
	}
}

func TestResults(t *testing.T) {
	ok := []result{{subject: "meter m1", success: true}}
	if got := renderresults(ok); got != "<Result status=\"success\" />\n" {
		t.Errorf("renderresults() = %q", got)
	}
	bad := append(ok, failure("m1 clock (0-0:1.0.0.255)", errors.New("read <denied>")))
	want := "<Result status=\"failure\">\n" +
		"    <Diagnostic>Task: m1 clock (0-0:1.0.0.255) access failure: read &lt;denied&gt;</Diagnostic>\n" +
		"</Result>\n"
	if got := renderresults(bad); got != want {
		t.Errorf("renderresults() = %q, want %q", got, want)
	}

	dir := filepath.Join(t.TempDir(), "result")
	name, err := writeresults(dir, time.Date(2024, 10, 18, 12, 30, 5, 0, time.UTC), bad)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(name) != "result_20241018_123005.xml" {
		t.Errorf("file name = %s", name)
	}
	b, err := os.ReadFile(name)
	if err != nil || string(b) != want {
		t.Errorf("file content = %q, %v", b, err)
	}
}
