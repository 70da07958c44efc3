// Package runid derives the stable identifier for one pipeline invocation.
package runid

import (
	"fmt"
	"strings"
	"time"

	"github.com/surveyline-labs/surveyline-go/internal/domain"
)

const timestampLayout = "2006-01-02T15:04:05Z"

// New builds the run record for one invocation. The caller supplies both the
// clock reading and the code version so the result is a pure function of its
// inputs.
func New(now time.Time, codeVersion string) (domain.RunRecord, error) {
	codeVersion = strings.TrimSpace(codeVersion)
	if now.IsZero() {
		return domain.RunRecord{}, fmt.Errorf("timestamp is required")
	}
	if codeVersion == "" {
		return domain.RunRecord{}, fmt.Errorf("code version is required")
	}
	stamp := now.UTC().Truncate(time.Second)
	return domain.RunRecord{
		RunID:       stamp.Format(timestampLayout) + "-" + codeVersion,
		Timestamp:   stamp,
		CodeVersion: codeVersion,
		Status:      string(domain.RunStatePending),
		StartedAt:   stamp,
	}, nil
}

// Parse splits a run id back into its timestamp and code version. Used when
// naming backups and uploaded logs after an existing run.
func Parse(runID string) (time.Time, string, error) {
	runID = strings.TrimSpace(runID)
	if len(runID) < len(timestampLayout)+2 {
		return time.Time{}, "", fmt.Errorf("run id too short: %q", runID)
	}
	stampPart := runID[:len(timestampLayout)]
	rest := runID[len(timestampLayout):]
	if !strings.HasPrefix(rest, "-") {
		return time.Time{}, "", fmt.Errorf("malformed run id: %q", runID)
	}
	stamp, err := time.Parse(timestampLayout, stampPart)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse run id timestamp: %w", err)
	}
	codeVersion := rest[1:]
	if codeVersion == "" {
		return time.Time{}, "", fmt.Errorf("run id missing code version: %q", runID)
	}
	return stamp, codeVersion, nil
}
