// Package deps reports which external programs sttbench can use on this host.
package deps

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const versionTimeout = 2 * time.Second

// Status represents the installation status of a dependency
type Status struct {
	Installed bool
	Path      string
	Version   string
}

// Tool is an external program and the arguments that print its version.
type Tool struct {
	Name        string
	VersionArgs []string
	Purpose     string
	Required    bool
}

// Tools lists the programs the live capture and notification paths call.
var Tools = []Tool{
	{Name: "pw-record", VersionArgs: []string{"--version"}, Purpose: "microphone capture", Required: true},
	{Name: "notify-send", VersionArgs: []string{"--version"}, Purpose: "desktop notifications"},
}

// Check looks name up in PATH and reads the first line of its version output.
func Check(ctx context.Context, name string, versionArgs ...string) Status {
	path, err := exec.LookPath(name)
	if err != nil {
		return Status{Installed: false}
	}

	status := Status{
		Installed: true,
		Path:      path,
	}
	if len(versionArgs) == 0 {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	output, err := exec.CommandContext(ctx, path, versionArgs...).Output()
	if err == nil {
		status.Version = firstLine(string(output))
	}
	return status
}

// CheckAll checks every entry of Tools.
func CheckAll(ctx context.Context) map[string]Status {
	out := make(map[string]Status, len(Tools))
	for _, t := range Tools {
		out[t.Name] = Check(ctx, t.Name, t.VersionArgs...)
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
