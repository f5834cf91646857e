package config

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/vinyl-linux/crate/render"
)

const (
	// IdentifierPrefix is prepended to a normalised app name when
	// no identifier is configured
	IdentifierPrefix = "org.opensource."

	// DefaultBuildRoot is the directory under which the staging
	// tree lives when no build dir is configured
	DefaultBuildRoot = "build"
)

// Pair is an ordered two element tuple.
//
// Pairs carry the (name, url), (source, destination), (source, target),
// and (mode, path) couples a build is configured with
type Pair = render.Pair

// Settings holds all of the configuration crate needs to build an
// installer package.
//
// Settings is produced by Resolve and is not modified afterwards;
// it is passed around by value
type Settings struct {
	App        string
	Version    string
	Identifier string

	License    string
	Welcome    string
	Conclusion string
	Banner     string

	Uninstall   string
	NoUninstall bool

	URLs     []Pair
	Installs []Pair
	Links    []Pair
	Chmods   []Pair

	PreInstall  string
	PostInstall string

	Sign         string
	MinOSVersion string

	BuildDir string
	Output   string
}

var (
	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9]+(\.[a-zA-Z0-9-]+)+$`)
	nonAlnumPattern   = regexp.MustCompile(`[^a-z0-9]`)
)

// Namespace returns the full template namespace; it is the variable
// set available to welcome/conclusion content, to user supplied
// scripts, and to the built-in script and Distribution templates
func (s Settings) Namespace() render.Namespace {
	return render.Namespace{
		"app":            s.App,
		"version":        s.Version,
		"identifier":     s.Identifier,
		"license":        s.License,
		"banner":         s.Banner,
		"uninstall":      !s.NoUninstall,
		"url":            s.URLs,
		"install":        s.Installs,
		"link":           s.Links,
		"chmod":          s.Chmods,
		"pre_install":    s.PreInstall,
		"post_install":   s.PostInstall,
		"sign":           s.Sign,
		"min_os_version": s.MinOSVersion,
		"build_dir":      s.BuildDir,
		"output":         s.Output,
		"machine":        Machine(),
	}
}

// PathNamespace returns the restricted template namespace available
// to path-valued fields; only app, version, and machine may appear
// in install destinations, link endpoints, chmod paths, the build
// dir, the output path, and the identifier
func PathNamespace(app, version string) render.Namespace {
	return render.Namespace{
		"app":     app,
		"version": version,
		"machine": Machine(),
	}
}

// Machine returns the hardware architecture under the name `uname -m`
// would report for it
func Machine() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"

	case "386":
		return "i386"
	}

	return runtime.GOARCH
}

// defaultIdentifier derives a reverse-DNS identifier from an app
// name by lowercasing it and stripping anything outside [a-z0-9]
func defaultIdentifier(app string) string {
	return IdentifierPrefix + nonAlnumPattern.ReplaceAllString(strings.ToLower(app), "")
}
