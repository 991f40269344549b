// chrome.go resolves bare browser executable names to absolute install paths.
// The bare name is frequently absent from the search path on Windows, so the
// shell silently no-ops on it; resolving up front makes launches deterministic.
package dispatch

import (
	"os"
	"os/exec"
	"strings"
	"sync"
)

// standardInstallLocations maps a browser executable name to the fixed list
// of install paths probed, in order, when no override is configured.
var standardInstallLocations = map[string][]string{
	"chrome.exe": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
	"msedge.exe": {
		`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
		`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
	},
	"firefox.exe": {
		`C:\Program Files\Mozilla Firefox\firefox.exe`,
		`C:\Program Files (x86)\Mozilla Firefox\firefox.exe`,
	},
	// Unix fallbacks, used when the bot drives a Linux host.
	"chrome": {
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	},
	"firefox": {
		"/usr/bin/firefox",
		"/snap/bin/firefox",
	},
}

// browserResolver memoizes resolved executable paths. The cache is
// append-only: entries are never invalidated, and recomputing is idempotent,
// so concurrent resolution for the same name is harmless.
type browserResolver struct {
	overrides map[string]string // exe name -> configured absolute path

	mu    sync.Mutex
	cache map[string]string

	// statFunc and lookPath are swappable for tests.
	statFunc func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
}

// newBrowserResolver creates a resolver with the given config overrides
// (keyed by executable name, e.g. "chrome.exe").
func newBrowserResolver(overrides map[string]string) *browserResolver {
	return &browserResolver{
		overrides: overrides,
		cache:     make(map[string]string),
		statFunc:  os.Stat,
		lookPath:  exec.LookPath,
	}
}

// Resolve returns the absolute path for a bare browser executable name.
// Order: configured override, memoized result, standard install locations,
// PATH lookup. Returns "" when nothing is found.
func (r *browserResolver) Resolve(exeName string) string {
	name := strings.ToLower(exeName)

	if p, ok := r.overrides[name]; ok && p != "" {
		return p
	}

	r.mu.Lock()
	if p, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return p
	}
	r.mu.Unlock()

	resolved := ""
	for _, candidate := range standardInstallLocations[name] {
		if _, err := r.statFunc(candidate); err == nil {
			resolved = candidate
			break
		}
	}
	if resolved == "" {
		if p, err := r.lookPath(strings.TrimSuffix(name, ".exe")); err == nil {
			resolved = p
		}
	}

	if resolved != "" {
		r.mu.Lock()
		r.cache[name] = resolved
		r.mu.Unlock()
	}
	return resolved
}
