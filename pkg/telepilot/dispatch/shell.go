// Package dispatch turns a requested command or script plus a shell hint into
// a safe, deterministic OS invocation. It detects the shell family, rewrites
// known-dangerous patterns before they reach the interpreter, executes with a
// timeout, and verifies risky side effects (browser launches).
package dispatch

import (
	"regexp"
	"strings"
	"time"
)

// Shell identifies the interpreter family used to run a command or script.
type Shell string

const (
	// ShellAuto lets the dispatcher pick the interpreter from the text.
	ShellAuto Shell = "auto"

	// ShellCmd is the basic line-oriented interpreter (cmd.exe).
	ShellCmd Shell = "cmd"

	// ShellPowerShell is the structured cmdlet/pipeline interpreter.
	ShellPowerShell Shell = "powershell"

	// ShellBash is the POSIX shell, for WSL/unix hosts.
	ShellBash Shell = "bash"
)

// DefaultTimeout applies when the caller does not supply one.
const DefaultTimeout = 30 * time.Second

// ExecutionSpec describes one command dispatch request.
// Exactly one of Command or Script is set: Command is executed as a single
// interpreter line, Script is written to a file and executed from there.
type ExecutionSpec struct {
	Command    string
	Script     string
	Shell      Shell
	ScriptPath string // optional explicit path for Script; temp file when empty
	WorkDir    string
	Timeout    time.Duration
}

// ExecutionResult is the uniform outcome of a dispatch. All failure modes are
// captured here; Execute never panics or returns a Go error to the caller.
type ExecutionResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// cmdletVerbs are the verb prefixes that mark cmdlet-style tokens. A token
// like "Get-Process" anywhere in the text is a strong structured-shell signal.
var cmdletVerbs = []string{
	"Get-", "Set-", "New-", "Remove-", "Write-", "Select-",
	"Where-", "ForEach-", "Out-", "Format-", "Start-",
}

// psVariableRe matches a variable sigil followed by an identifier ($env:PATH,
// $foo). A bare "$" (e.g. in a price string) is not enough.
var psVariableRe = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_:]*`)

// cmdletTokenRe matches a full verb-noun cmdlet token.
var cmdletTokenRe = regexp.MustCompile(`\b(Get|Set|New|Remove|Write|Select|Where|ForEach|Out|Format|Start)-[A-Za-z]\w*`)

// pipeToCmdletRe matches a pipe feeding into a cmdlet verb.
var pipeToCmdletRe = regexp.MustCompile(`\|\s*(Get|Set|New|Remove|Write|Select|Where|ForEach|Out|Format|Start)-`)

// DetectShell classifies command text as structured shell (PowerShell) or the
// basic interpreter (cmd). An explicit hint always wins; this heuristic only
// applies to ShellAuto.
func DetectShell(text string, hint Shell) Shell {
	if hint != "" && hint != ShellAuto {
		return hint
	}

	if strings.Contains(text, "\n") {
		return ShellPowerShell
	}
	if psVariableRe.MatchString(text) {
		return ShellPowerShell
	}
	if cmdletTokenRe.MatchString(text) {
		return ShellPowerShell
	}
	if pipeToCmdletRe.MatchString(text) {
		return ShellPowerShell
	}

	return ShellCmd
}

// scriptExtension returns the file extension for a script run by the shell.
func scriptExtension(shell Shell) string {
	switch shell {
	case ShellPowerShell:
		return ".ps1"
	case ShellBash:
		return ".sh"
	default:
		return ".cmd"
	}
}

// ParseShell normalizes a user-supplied shell name. Unknown values fall back
// to auto detection rather than failing the call.
func ParseShell(s string) Shell {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cmd":
		return ShellCmd
	case "powershell", "pwsh", "ps":
		return ShellPowerShell
	case "bash", "sh":
		return ShellBash
	default:
		return ShellAuto
	}
}
