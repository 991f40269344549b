package dispatch

import (
	"strings"
	"testing"
)

func TestEmptyStartTargetRule(t *testing.T) {
	rejected := []string{
		"start",
		"start ",
		`start ""`,
		"start ''",
		`start "" `,
	}
	for _, cmd := range rejected {
		t.Run("rejects "+cmd, func(t *testing.T) {
			_, d := normalizeCommand(cmd)
			if d.outcome != outcomeReject {
				t.Fatalf("expected reject for %q, got outcome %d", cmd, d.outcome)
			}
			if !strings.Contains(d.reason, "Refusing to run") {
				t.Errorf("reason %q missing 'Refusing to run'", d.reason)
			}
		})
	}

	passed := []string{
		"start notepad.exe",
		`start "" notepad.exe`,
		"startx",
	}
	for _, cmd := range passed {
		t.Run("passes "+cmd, func(t *testing.T) {
			rule, d := normalizeCommand(cmd)
			if d.outcome == outcomeReject && rule == "empty_start_target" {
				t.Errorf("unexpected empty-start reject for %q: %s", cmd, d.reason)
			}
		})
	}
}

func TestLeadingSeparatorURLRule(t *testing.T) {
	cases := []struct {
		in        string
		suggested string
	}{
		{`\\https://example.com`, "https://example.com"},
		{`\https://example.com/path?q=1`, "https://example.com/path?q=1"},
		{`//http://example.org`, "http://example.org"},
		{`/https://example.com`, "https://example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			rule, d := normalizeCommand(tc.in)
			if d.outcome != outcomeReject {
				t.Fatalf("expected reject, got outcome %d (rule %q)", d.outcome, rule)
			}
			if !strings.Contains(d.reason, tc.suggested) {
				t.Errorf("reason %q missing suggested address %q", d.reason, tc.suggested)
			}
		})
	}

	t.Run("plain url passes this rule", func(t *testing.T) {
		rule, d := normalizeCommand("https://example.com")
		if d.outcome == outcomeReject && rule == "leading_separator_url" {
			t.Errorf("plain url should not trip the leading-separator rule")
		}
	})

	t.Run("real unc path passes", func(t *testing.T) {
		rule, d := normalizeCommand(`\\server\share\file.txt`)
		if d.outcome != outcomePass {
			t.Errorf("valid UNC path rejected by rule %q: %s", rule, d.reason)
		}
	})
}

func TestUNCMissingShareRule(t *testing.T) {
	rejected := []string{`\\server`, `\\server\`, `  \\host01  `}
	for _, cmd := range rejected {
		t.Run("rejects "+cmd, func(t *testing.T) {
			rule, d := normalizeCommand(cmd)
			if d.outcome != outcomeReject || rule != "unc_missing_share" {
				t.Fatalf("expected unc_missing_share reject for %q, got rule %q outcome %d", cmd, rule, d.outcome)
			}
		})
	}

	t.Run("complete unc path passes", func(t *testing.T) {
		_, d := normalizeCommand(`\\server\share`)
		if d.outcome != outcomePass {
			t.Errorf("complete UNC path should pass, got outcome %d", d.outcome)
		}
	})
}

func TestBrowserLaunchRule(t *testing.T) {
	launches := []struct {
		in      string
		exe     string
		absPath bool
	}{
		{"chrome.exe https://example.com", "chrome.exe", false},
		{"chrome https://example.com --new-window", "chrome", false},
		{"start chrome.exe https://example.com", "chrome.exe", false},
		{`start "" chrome.exe --new-window`, "chrome.exe", false},
		{"msedge.exe --new-window", "msedge.exe", false},
		{`C:\Program Files\Google\Chrome\Application\chrome.exe`, "chrome.exe", true},
	}
	for _, tc := range launches {
		t.Run(tc.in, func(t *testing.T) {
			rule, d := normalizeCommand(tc.in)
			if d.outcome != outcomeLaunchBrowser {
				t.Fatalf("expected launch diversion (rule %q), got outcome %d", rule, d.outcome)
			}
			if d.launch.exeName != tc.exe {
				t.Errorf("exe name = %q, want %q", d.launch.exeName, tc.exe)
			}
			if tc.absPath && d.launch.exePath == "" {
				t.Errorf("expected absolute exe path to be captured")
			}
		})
	}

	passes := []string{
		"chrome.exe --version",
		"echo chrome.exe https://example.com",
		"notepad.exe https://example.com",
	}
	for _, cmd := range passes {
		t.Run("passes "+cmd, func(t *testing.T) {
			_, d := normalizeCommand(cmd)
			if d.outcome == outcomeLaunchBrowser {
				t.Errorf("%q should not be classified as a browser launch", cmd)
			}
		})
	}
}

func TestRuleOrderRejectionsBeforeLaunch(t *testing.T) {
	// A malformed target must be rejected even if later rules could match.
	rule, d := normalizeCommand(`\\https://example.com`)
	if rule != "leading_separator_url" || d.outcome != outcomeReject {
		t.Fatalf("expected leading_separator_url reject first, got rule %q outcome %d", rule, d.outcome)
	}
}
