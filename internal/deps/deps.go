package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"aura/internal/config"
)

// Requirement defines an external dependency aura relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// HostRequirements lists the binaries the host invokes directly or through
// providers.
func HostRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "aura-worker", Command: cfg.Providers.WorkerBinary, Description: "Reference transcription worker", Optional: true},
		{Name: "uv", Command: cfg.Providers.UVBinary, Description: "Runs the Python whisper workers", Optional: true},
		{Name: "FFprobe", Command: cfg.Providers.FFprobeBinary, Description: "Audio metadata during scans", Optional: true},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
