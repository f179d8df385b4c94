package main

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type result struct {
	subject    string
	success    bool
	diagnostic string
}

func failure(subject string, err error) result {
	return result{subject: subject, diagnostic: err.Error()}
}

func failed(results []result) bool {
	for _, r := range results {
		if !r.success {
			return true
		}
	}
	return false
}

// renderresults is <Result status="success" /> or the failure status with one diagnostic per
// failed task.
func renderresults(results []result) string {
	if !failed(results) {
		return "<Result status=\"success\" />\n"
	}
	var sb strings.Builder
	sb.WriteString("<Result status=\"failure\">\n")
	for _, r := range results {
		if r.success {
			continue
		}
		sb.WriteString("    <Diagnostic>Task: ")
		_ = xml.EscapeText(&sb, []byte(r.subject))
		sb.WriteString(" access failure: ")
		_ = xml.EscapeText(&sb, []byte(r.diagnostic))
		sb.WriteString("</Diagnostic>\n")
	}
	sb.WriteString("</Result>\n")
	return sb.String()
}

// writeresults stores the summary as dir/result_YYYYMMDD_HHMMSS.xml and returns the file name.
func writeresults(dir string, now time.Time, results []result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Join(dir, "result"+now.Format("_20060102_150405")+".xml")
	return name, os.WriteFile(name, []byte(renderresults(results)), 0o644)
}
