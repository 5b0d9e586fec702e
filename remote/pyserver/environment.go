// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pyserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/rapidsml/remote"
	"github.com/pkg/errors"
)

// probeScript prints, as JSON, the interpreter version and the outcome of importing each module given
// as argument.
const probeScript = `import importlib, json, sys
out = {"version": sys.version.split()[0], "executable": sys.executable, "modules": []}
for name in sys.argv[1:]:
    entry = {"name": name}
    try:
        module = importlib.import_module(name)
        entry["version"] = str(getattr(module, "__version__", ""))
    except Exception as e:
        entry["error"] = "%s: %s" % (type(e).__name__, e)
    out["modules"].append(entry)
print(json.dumps(out))
`

// ModuleStatus is the outcome of importing one required module.
type ModuleStatus struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Error   string `json:"error"`
}

// Report is the result of validating a remote environment. Its String method renders it for display.
type Report struct {
	Handle        remote.Handle
	PythonVersion string
	Executable    string
	Modules       []ModuleStatus

	// Output is the captured output of the interpreter, set when something went wrong.
	Output string

	// Err is set if the interpreter couldn't be run, or a required module failed to import.
	Err error
}

// OK returns whether the environment is usable.
func (r *Report) OK() bool { return r.Err == nil }

var (
	reportTitleStyle  = lipgloss.NewStyle().Bold(true)
	reportHeaderStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	reportCellStyle   = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	reportFailedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
				Bold(true).
				PaddingLeft(1).PaddingRight(1)
)

// String renders the report as a table of modules, followed by the error and captured output, if any.
func (r *Report) String() string {
	var sb strings.Builder
	status := "OK"
	if !r.OK() {
		status = "UNAVAILABLE"
	}
	sb.WriteString(reportTitleStyle.Render(fmt.Sprintf("Remote environment %s: %s", r.Handle, status)))
	sb.WriteString("\n")

	failed := make(map[int]bool)
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return reportHeaderStyle
			case failed[row]:
				return reportFailedStyle
			}
			return reportCellStyle
		})
	table.Headers("Component", "Version", "Status")
	pythonStatus := "ok"
	if r.PythonVersion == "" {
		pythonStatus = "not run"
		failed[0] = true
	}
	table.Row("python ("+r.Handle.Command()+")", r.PythonVersion, pythonStatus)
	for ii, m := range r.Modules {
		status := "ok"
		if m.Error != "" {
			status = m.Error
			failed[ii+1] = true
		}
		table.Row(m.Name, m.Version, status)
	}
	sb.WriteString(table.Render())
	sb.WriteString("\n")
	if r.Executable != "" {
		fmt.Fprintf(&sb, "Interpreter: %s\n", r.Executable)
	}
	if r.Err != nil {
		fmt.Fprintf(&sb, "Error: %v\n", r.Err)
	}
	if output := strings.TrimSpace(r.Output); output != "" {
		fmt.Fprintf(&sb, "Output:\n%s\n", output)
	}
	return sb.String()
}

// CheckEnvironment runs the interpreter of handle with a probe script that tries to import each of
// opts.RequiredModules. It never returns nil; check Report.OK.
func CheckEnvironment(ctx context.Context, handle remote.Handle, opts Options) *Report {
	report := &Report{Handle: handle}
	args := append([]string{"-c", probeScript}, opts.RequiredModules...)
	command := opts.command(handle)
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = opts.environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		report.Err = errors.Wrapf(err, "running %q", command)
		report.Output = stdout.String() + stderr.String()
		return report
	}
	parseProbe(report, stdout.Bytes())
	if report.Err != nil {
		report.Output = stdout.String() + stderr.String()
	}
	return report
}

// parseProbe fills report from the output of probeScript.
func parseProbe(report *Report, output []byte) {
	// Modules may print while imported: the JSON document is the last line.
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	last := lines[len(lines)-1]
	var probe struct {
		Version    string         `json:"version"`
		Executable string         `json:"executable"`
		Modules    []ModuleStatus `json:"modules"`
	}
	if err := json.Unmarshal([]byte(last), &probe); err != nil {
		report.Err = errors.Wrap(err, "parsing environment probe output")
		return
	}
	report.PythonVersion = probe.Version
	report.Executable = probe.Executable
	report.Modules = probe.Modules
	var missing []string
	for _, m := range probe.Modules {
		if m.Error != "" {
			missing = append(missing, m.Name)
		}
	}
	if len(missing) > 0 {
		report.Err = errors.Errorf("required module(s) failed to import: %s", strings.Join(missing, ", "))
	}
}
