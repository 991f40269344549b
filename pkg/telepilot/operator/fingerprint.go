// fingerprint.go derives dedup keys for side-effecting tool calls. Only
// high-impact actions carry a fingerprint: browsing a URL and shell commands
// that launch a visible GUI browser. Identical fingerprints observed within
// one orchestration run are not executed twice.
package operator

import (
	"strings"

	"github.com/telepilotdev/telepilot/pkg/telepilot/dispatch"
)

// actionFingerprint returns the dedup key for a tool call, or "" when the
// call is not classified as side-effecting.
func actionFingerprint(call ToolCall) string {
	switch call.Function.Name {
	case "browse_site":
		var args browseSiteArgs
		if err := parseToolArgs(call.Function.Arguments, &args); err != nil {
			return ""
		}
		if args.URL == "" {
			return ""
		}
		return "browse|" + canonical(args.URL) + "|" + canonical(args.Task)

	case "run_command":
		var args runCommandArgs
		if err := parseToolArgs(call.Function.Arguments, &args); err != nil {
			return ""
		}
		if args.Command == "" {
			return ""
		}
		exe, ok := dispatch.BrowserLaunchIntent(args.Command)
		if !ok {
			return ""
		}
		return "launch|" + exe + "|" + canonical(args.Command)
	}
	return ""
}

// canonical lowercases and collapses whitespace so cosmetic differences in
// the service's arguments do not defeat deduplication.
func canonical(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
