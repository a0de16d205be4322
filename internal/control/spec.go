package control

import (
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// Match identifies an already-running instance of a service among the OS
// process table. Set fields must all hold: Exe compares against the
// process executable base name, Cmdline is a substring match on the full
// command line.
type Match struct {
	Exe     string `json:"exe" mapstructure:"exe"`
	Cmdline string `json:"cmdline" mapstructure:"cmdline"`
}

func (m Match) Empty() bool { return m.Exe == "" && m.Cmdline == "" }

func (m Match) Describe() string {
	parts := make([]string, 0, 2)
	if m.Exe != "" {
		parts = append(parts, "exe:"+m.Exe)
	}
	if m.Cmdline != "" {
		parts = append(parts, "cmdline:~"+m.Cmdline)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Spec describes one supervised service. Operator-supplied, immutable at
// runtime.
type Spec struct {
	Name           string            `json:"name"`
	HealthURL      string            `json:"health_url"`
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	WorkDir        string            `json:"work_dir,omitempty"`
	Env            map[string]string `json:"env,omitempty"` // required overrides applied to the launched process
	Match          Match             `json:"match"`
	StartupTimeout time.Duration     `json:"startup_timeout"` // max wait for health after a restart is issued
	ProbeTimeout   time.Duration     `json:"probe_timeout"`   // per-probe HTTP timeout
}

// Validate rejects a malformed spec. A bad spec is fatal only for that
// one service; the supervisor runs the remaining valid ones.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("service name required")
	}
	if strings.TrimSpace(s.HealthURL) == "" {
		return fmt.Errorf("service %s: health_url required", s.Name)
	}
	u, err := url.Parse(s.HealthURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service %s: health_url must be an absolute http(s) URL", s.Name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("service %s: command required", s.Name)
	}
	if s.Match.Empty() {
		return fmt.Errorf("service %s: match.exe or match.cmdline required", s.Name)
	}
	if s.StartupTimeout < 0 || s.ProbeTimeout < 0 {
		return fmt.Errorf("service %s: timeouts cannot be negative", s.Name)
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec. With explicit Args
// the command is executed directly. Otherwise the command string is
// split, falling back to /bin/sh -c when shell metacharacters are
// present, and honoring an explicit "sh -c '...'" prefix without
// double-wrapping.
func (s *Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr. It returns (shellPath, afterCArg, true) when
// matched, preserving the substring after "-c " verbatim to avoid breaking
// quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
