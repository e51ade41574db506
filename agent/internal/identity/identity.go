// Package identity resolves the agent's stable system_uuid. The
// installer/bootstrapping flow that derives this in production is out of
// scope (spec.md §1); this package supplies the smallest viable fallback
// so the agent can run standalone, per SPEC_FULL.md §4's supplemented
// feature note.
package identity

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// Resolve returns configured if non-empty, otherwise a host-derived
// identifier persisted at statePath so it is stable across restarts.
func Resolve(configured, statePath string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	if data, err := os.ReadFile(statePath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id, err := host.HostID()
	if err != nil || id == "" {
		info, infoErr := host.Info()
		if infoErr != nil {
			return "", infoErr
		}
		id = info.Hostname
	}

	if err := os.WriteFile(statePath, []byte(id), 0600); err != nil {
		return "", err
	}
	return id, nil
}
