// rules.go holds the ordered table of command-safety rules applied to the
// basic-interpreter (cmd) path before execution. Ambiguous quoting there is
// what triggers unwanted OS dialog popups, so these patterns are rewritten or
// rejected up front. This is a best-effort guard against accidental misuse,
// not a security boundary.
package dispatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ruleOutcome is what a safety rule decides for a command.
type ruleOutcome int

const (
	// outcomePass means the rule does not apply; try the next one.
	outcomePass ruleOutcome = iota

	// outcomeReject blocks execution with a structured error.
	outcomeReject

	// outcomeLaunchBrowser diverts the command to a detached browser spawn
	// instead of routing it through the interpreter.
	outcomeLaunchBrowser
)

// ruleDecision carries the outcome plus its payload.
type ruleDecision struct {
	outcome ruleOutcome
	reason  string        // for outcomeReject
	launch  browserLaunch // for outcomeLaunchBrowser
}

// browserLaunch describes a visible-browser spawn diverted from the shell.
type browserLaunch struct {
	exeName string   // bare executable name as typed ("chrome.exe")
	exePath string   // absolute path when the command used one
	args    []string // URL and window flags, in command order
}

// safetyRule is one entry in the ordered rule table. Rules run in order; the
// first non-pass decision wins.
type safetyRule struct {
	name  string
	check func(text string) ruleDecision
}

// emptyStartRe matches a bare "start" launch directive whose target is empty
// or quote-only: `start`, `start ""`, `start ''`, `start "" `. cmd.exe treats
// the first quoted token as a window title, so these pop a "path not found"
// dialog instead of failing cleanly.
var emptyStartRe = regexp.MustCompile(`(?i)^\s*start\s*(""|''|\s)*$`)

// leadingSepURLRe matches one or two leading path separators glued onto what
// is otherwise a web address, e.g. `\\https://example.com`. This is a common
// input-sanitization artifact, never a valid target.
var leadingSepURLRe = regexp.MustCompile(`^\s*[\\/]{1,2}(https?://\S+)\s*$`)

// uncMissingShareRe matches a two-part network path with no share segment
// (`\\host` or `\\host\`). The OS surfaces these as a dialog, not an error.
var uncMissingShareRe = regexp.MustCompile(`^\s*\\\\[^\\/\s]+\\?\s*$`)

// browserExeNames are the bare executable names recognized as GUI browsers.
var browserExeNames = []string{"chrome.exe", "chrome", "msedge.exe", "msedge", "firefox.exe", "firefox"}

// windowFlags are browser arguments that force a visible window.
var windowFlags = map[string]bool{
	"--new-window": true,
	"--new-tab":    true,
	"-new-window":  true,
}

// safetyRules is the ordered rule table. Order matters: rejections run before
// the browser-launch diversion so a malformed target never reaches a spawn.
var safetyRules = []safetyRule{
	{name: "empty_start_target", check: checkEmptyStartTarget},
	{name: "leading_separator_url", check: checkLeadingSeparatorURL},
	{name: "unc_missing_share", check: checkUNCMissingShare},
	{name: "visible_browser_launch", check: checkBrowserLaunch},
}

// normalizeCommand runs the command text through the safety-rule table.
// Returns the first non-pass decision, or a pass decision when no rule fires.
func normalizeCommand(text string) (string, ruleDecision) {
	for _, rule := range safetyRules {
		if d := rule.check(text); d.outcome != outcomePass {
			return rule.name, d
		}
	}
	return "", ruleDecision{outcome: outcomePass}
}

func checkEmptyStartTarget(text string) ruleDecision {
	if !emptyStartRe.MatchString(text) {
		return ruleDecision{outcome: outcomePass}
	}
	return ruleDecision{
		outcome: outcomeReject,
		reason:  fmt.Sprintf("Refusing to run %q: 'start' with an empty or quote-only target opens an OS error dialog instead of failing. Provide an explicit program or address to launch.", strings.TrimSpace(text)),
	}
}

func checkLeadingSeparatorURL(text string) ruleDecision {
	m := leadingSepURLRe.FindStringSubmatch(text)
	if m == nil {
		return ruleDecision{outcome: outcomePass}
	}
	suggested := m[1]
	if u, err := url.Parse(suggested); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ruleDecision{outcome: outcomePass}
	}
	return ruleDecision{
		outcome: outcomeReject,
		reason:  fmt.Sprintf("Refusing to run: leading path separators on a web address are an input artifact, not a valid target. Did you mean %s ?", suggested),
	}
}

func checkUNCMissingShare(text string) ruleDecision {
	if !uncMissingShareRe.MatchString(text) {
		return ruleDecision{outcome: outcomePass}
	}
	return ruleDecision{
		outcome: outcomeReject,
		reason:  fmt.Sprintf("Refusing to run %q: network path is missing the share segment (expected \\\\host\\share). The OS would surface a popup instead of an error.", strings.TrimSpace(text)),
	}
}

// checkBrowserLaunch detects "launch a visible browser" intent: a browser
// executable (bare name or absolute path, optionally behind `start`) invoked
// with an address, a window flag, or as a direct absolute-path call. These are
// diverted to a detached spawn — routing them through cmd.exe hits quoting
// pitfalls and interpreter hangs with certain launch syntaxes, and the bare
// name is frequently absent from the search path and silently no-ops.
func checkBrowserLaunch(text string) ruleDecision {
	// Direct absolute-path invocation, possibly with unquoted spaces in the
	// path ("C:\Program Files\...\chrome.exe"). Whole-text match only; with
	// arguments present the path must be quoted to tokenize correctly.
	whole := strings.Trim(strings.TrimSpace(text), `"'`)
	if isAbsolutePath(whole) && isBrowserExeName(baseName(whole)) {
		return ruleDecision{outcome: outcomeLaunchBrowser, launch: browserLaunch{
			exeName: baseName(whole),
			exePath: whole,
		}}
	}

	fields := splitCommandFields(text)
	if len(fields) == 0 {
		return ruleDecision{outcome: outcomePass}
	}

	// Strip a leading `start` (and its optional empty title token).
	if strings.EqualFold(fields[0], "start") {
		fields = fields[1:]
		if len(fields) > 0 && fields[0] == "" {
			fields = fields[1:]
		}
	}
	if len(fields) == 0 {
		return ruleDecision{outcome: outcomePass}
	}

	head := fields[0]
	rest := fields[1:]

	launch := browserLaunch{}
	switch {
	case isBrowserExeName(head):
		launch.exeName = head
	case isAbsolutePath(head) && isBrowserExeName(baseName(head)):
		launch.exePath = head
		launch.exeName = baseName(head)
	default:
		return ruleDecision{outcome: outcomePass}
	}

	hasAddress := false
	hasWindowFlag := false
	for _, f := range rest {
		if strings.HasPrefix(f, "http://") || strings.HasPrefix(f, "https://") {
			hasAddress = true
		}
		if windowFlags[strings.ToLower(f)] {
			hasWindowFlag = true
		}
	}

	// Intent requires an address, a window flag, or a direct absolute-path
	// invocation. A bare name with no arguments stays on the shell path.
	if !hasAddress && !hasWindowFlag && launch.exePath == "" {
		return ruleDecision{outcome: outcomePass}
	}

	launch.args = rest
	return ruleDecision{outcome: outcomeLaunchBrowser, launch: launch}
}

// BrowserLaunchIntent reports whether command text would be diverted to a
// detached browser launch, and which executable it targets. Used by callers
// that classify launch commands as high-impact actions.
func BrowserLaunchIntent(text string) (string, bool) {
	d := checkBrowserLaunch(text)
	if d.outcome != outcomeLaunchBrowser {
		return "", false
	}
	return strings.ToLower(strings.TrimSuffix(d.launch.exeName, ".exe")), true
}

// splitCommandFields splits command text on whitespace, keeping double-quoted
// runs together and unwrapping the quotes. Good enough for launch-intent
// detection; the full command line is never re-assembled from these fields.
func splitCommandFields(text string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		out = append(out, strings.Trim(cur.String(), `'`))
		cur.Reset()
	}
	for _, r := range text {
		switch {
		case r == '"':
			if inQuote {
				inQuote = false
				flush()
			} else {
				inQuote = true
			}
		case (r == ' ' || r == '\t') && !inQuote:
			if cur.Len() > 0 {
				flush()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		flush()
	}
	return out
}

func isBrowserExeName(tok string) bool {
	lower := strings.ToLower(tok)
	for _, name := range browserExeNames {
		if lower == name {
			return true
		}
	}
	return false
}

func isAbsolutePath(tok string) bool {
	if strings.HasPrefix(tok, `\\`) {
		return true
	}
	if len(tok) >= 3 && tok[1] == ':' && (tok[2] == '\\' || tok[2] == '/') {
		return true
	}
	return strings.HasPrefix(tok, "/")
}

func baseName(p string) string {
	idx := strings.LastIndexAny(p, `\/`)
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}
