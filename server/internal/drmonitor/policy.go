// Package drmonitor implements the DR Monitor (C9): loads the DR policy
// document and periodically checks each enabled agent's disconnected
// duration against its configured threshold, invoking a restore workflow
// on breach. No teacher equivalent exists (the teacher's notification
// package only sends outbound alerts, never triggers a workflow) — grounded
// on original_source/srvr/backup_recovery/dr_mon.py's 60s control loop,
// expressed in the teacher's idiom (injected logger, ticker-driven loop).
package drmonitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/vaultline/vaultline/shared/types"
)

// LoadPolicy reads a JSONC (JSON-with-// and /* */-comments) DR policy
// document from path and parses it into types.DRPolicyDoc.
func LoadPolicy(path string) (types.DRPolicyDoc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("drmonitor: reading policy file: %w", err)
	}
	stripped := stripJSONC(raw)

	var doc types.DRPolicyDoc
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("drmonitor: parsing policy document: %w", err)
	}
	return doc, nil
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
)

// stripJSONC removes // and /* */ comments so the result is valid JSON.
// Does not attempt to special-case comment markers inside string
// literals — the policy document is operator-authored configuration, not
// untrusted input, so a best-effort strip is sufficient.
func stripJSONC(raw []byte) []byte {
	out := blockComment.ReplaceAll(raw, nil)
	out = lineComment.ReplaceAll(out, nil)
	return bytes.TrimSpace(out)
}

// isoDuration matches the ISO-8601-style PT<H>H<M>M<S>S form, any field
// optional (spec §4.9).
var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// flexDuration matches the fallback <N>h<N>m form, either field optional.
var flexDuration = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?$`)

// ParseThreshold parses a DR_monitoring_threshold string in either the
// ISO-8601-style PT<H>H<M>M<S>S form or the flexible <N>h<N>m form.
func ParseThreshold(s string) (time.Duration, error) {
	if m := isoDuration.FindStringSubmatch(s); m != nil && s != "PT" {
		h := atoiOr(m[1], 0)
		min := atoiOr(m[2], 0)
		sec := atoiOr(m[3], 0)
		return time.Duration(h)*time.Hour + time.Duration(min)*time.Minute + time.Duration(sec)*time.Second, nil
	}
	if m := flexDuration.FindStringSubmatch(s); m != nil && s != "" {
		h := atoiOr(m[1], 0)
		min := atoiOr(m[2], 0)
		return time.Duration(h)*time.Hour + time.Duration(min)*time.Minute, nil
	}
	return 0, fmt.Errorf("drmonitor: unrecognized threshold format %q", s)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
