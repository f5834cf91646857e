package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-version"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/vinyl-linux/crate/render"
)

const (
	// ConfigFilename is the dedicated config file crate looks for in
	// the working directory
	ConfigFilename = "crate.toml"

	// ManifestFilename is the project manifest which may carry a
	// [tool.crate] sub-table
	ManifestFilename = "pyproject.toml"
)

// Error is returned for invalid, missing, or malformed configuration.
//
// A configuration error is always fatal and is always raised before
// any native tool runs
type Error struct {
	Option string
	Reason string
}

// Error implements the `error` interface, naming the option at fault
// where one is known
func (e Error) Error() string {
	if e.Option == "" {
		return e.Reason
	}

	return fmt.Sprintf("%s: %s", e.Option, e.Reason)
}

// Options carries the inputs to Resolve: an optional explicit config
// file, the working directory in which to discover config files and
// resolve relative paths, and the command-line overrides
type Options struct {
	ConfigFile string
	Dir        string
	Overrides  Overrides
}

// Overrides holds explicitly supplied settings; a nil field means
// "not supplied" so that explicitly falsy values (such as disabling
// the uninstaller) still override config file values
type Overrides struct {
	App        *string
	Version    *string
	Identifier *string

	License    *string
	Welcome    *string
	Conclusion *string
	Banner     *string

	Uninstall   *string
	NoUninstall *bool

	URLs     *[]Pair
	Installs *[]Pair
	Links    *[]Pair
	Chmods   *[]Pair

	PreInstall  *string
	PostInstall *string

	Sign         *string
	MinOSVersion *string

	BuildDir *string
	Output   *string
}

// Resolve merges built-in defaults, a discovered (or explicitly
// given) config file, and command-line overrides into one Settings,
// validates it, and resolves its path templates.
//
// Precedence, increasing: defaults, pyproject.toml [tool.crate],
// crate.toml (which wins entirely over the sub-table when both
// exist), command-line overrides
func Resolve(opts Options) (s Settings, err error) {
	s = Settings{
		BuildDir: DefaultBuildRoot,
	}

	fileVals, err := discover(opts)
	if err != nil {
		return
	}

	s.apply(fileVals)
	s.apply(opts.Overrides)

	// an explicit --no-uninstall beats an uninstall script a config
	// file chose; both from the same source remains an error
	if opts.Overrides.NoUninstall != nil && *opts.Overrides.NoUninstall && opts.Overrides.Uninstall == nil {
		s.Uninstall = ""
	}

	err = s.expandHome()
	if err != nil {
		return
	}

	err = s.validate(opts.Dir)
	if err != nil {
		return
	}

	err = s.resolvePaths()

	return
}

// discover locates and parses whichever config file applies, if any
func discover(opts Options) (o Overrides, err error) {
	if opts.ConfigFile != "" {
		return parseFile(opts.ConfigFile, "")
	}

	dedicated := filepath.Join(opts.Dir, ConfigFilename)
	if _, serr := os.Stat(dedicated); serr == nil {
		return parseFile(dedicated, "")
	}

	manifest := filepath.Join(opts.Dir, ManifestFilename)
	if _, serr := os.Stat(manifest); serr == nil {
		return parseFile(manifest, "tool.crate")
	}

	return
}

// parseFile reads a TOML file into Overrides, mapping keys through
// the fixed schema table; table, when non-empty, is the dotted path
// of the sub-table holding crate's settings
func parseFile(filename, table string) (o Overrides, err error) {
	d, err := os.ReadFile(filename)
	if err != nil {
		err = Error{Reason: fmt.Sprintf("reading %s: %v", filename, err)}

		return
	}

	raw := make(map[string]interface{})

	err = toml.Unmarshal(d, &raw)
	if err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			err = Error{Reason: fmt.Sprintf("%s: line %d, column %d: %s", filename, row, col, derr.Error())}

			return
		}

		err = Error{Reason: fmt.Sprintf("%s: %v", filename, err)}

		return
	}

	for _, elem := range strings.Split(table, ".") {
		if elem == "" {
			continue
		}

		sub, ok := raw[elem].(map[string]interface{})
		if !ok {
			// no sub-table; nothing configured
			return Overrides{}, nil
		}

		raw = sub
	}

	for key, value := range raw {
		set, ok := schema[normalise(key)]
		if !ok {
			err = Error{Option: key, Reason: fmt.Sprintf("unknown option in %s", filename)}

			return
		}

		err = set(&o, key, value)
		if err != nil {
			return
		}
	}

	return
}

// schema is the closed mapping from external option name to Settings
// field; keys are looked up after normalise, and anything missing
// from this table is a fatal configuration error
var schema = map[string]func(o *Overrides, key string, v interface{}) error{
	"app":            func(o *Overrides, k string, v interface{}) error { return str(&o.App, k, v) },
	"version":        func(o *Overrides, k string, v interface{}) error { return str(&o.Version, k, v) },
	"identifier":     func(o *Overrides, k string, v interface{}) error { return str(&o.Identifier, k, v) },
	"license":        func(o *Overrides, k string, v interface{}) error { return str(&o.License, k, v) },
	"welcome":        func(o *Overrides, k string, v interface{}) error { return str(&o.Welcome, k, v) },
	"conclusion":     func(o *Overrides, k string, v interface{}) error { return str(&o.Conclusion, k, v) },
	"banner":         func(o *Overrides, k string, v interface{}) error { return str(&o.Banner, k, v) },
	"uninstall":      func(o *Overrides, k string, v interface{}) error { return str(&o.Uninstall, k, v) },
	"no_uninstall":   func(o *Overrides, k string, v interface{}) error { return boolean(&o.NoUninstall, k, v) },
	"url":            func(o *Overrides, k string, v interface{}) error { return pairs(&o.URLs, k, v) },
	"install":        func(o *Overrides, k string, v interface{}) error { return pairs(&o.Installs, k, v) },
	"link":           func(o *Overrides, k string, v interface{}) error { return pairs(&o.Links, k, v) },
	"chmod":          func(o *Overrides, k string, v interface{}) error { return pairs(&o.Chmods, k, v) },
	"pre_install":    func(o *Overrides, k string, v interface{}) error { return str(&o.PreInstall, k, v) },
	"post_install":   func(o *Overrides, k string, v interface{}) error { return str(&o.PostInstall, k, v) },
	"sign":           func(o *Overrides, k string, v interface{}) error { return str(&o.Sign, k, v) },
	"min_os_version": func(o *Overrides, k string, v interface{}) error { return str(&o.MinOSVersion, k, v) },
	"build_dir":      func(o *Overrides, k string, v interface{}) error { return str(&o.BuildDir, k, v) },
	"output":         func(o *Overrides, k string, v interface{}) error { return str(&o.Output, k, v) },
}

// normalise folds the two accepted key spellings (pre-install,
// pre_install) into one
func normalise(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

func str(dst **string, key string, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return Error{Option: key, Reason: fmt.Sprintf("expected a string, received %T", v)}
	}

	*dst = &s

	return nil
}

func boolean(dst **bool, key string, v interface{}) error {
	b, ok := v.(bool)
	if !ok {
		return Error{Option: key, Reason: fmt.Sprintf("expected a boolean, received %T", v)}
	}

	*dst = &b

	return nil
}

func pairs(dst **[]Pair, key string, v interface{}) error {
	items, ok := v.([]interface{})
	if !ok {
		return Error{Option: key, Reason: fmt.Sprintf("expected an array of two element arrays, received %T", v)}
	}

	out := make([]Pair, 0, len(items))

	for _, item := range items {
		elems, ok := item.([]interface{})
		if !ok || len(elems) != 2 {
			return Error{Option: key, Reason: "each entry must be a two element array"}
		}

		a, aok := elems[0].(string)
		b, bok := elems[1].(string)

		if !aok || !bok {
			return Error{Option: key, Reason: "each entry must hold two strings"}
		}

		out = append(out, Pair{a, b})
	}

	*dst = &out

	return nil
}

// apply overlays non-nil Overrides fields onto s
func (s *Settings) apply(o Overrides) {
	if o.App != nil {
		s.App = *o.App
	}

	if o.Version != nil {
		s.Version = *o.Version
	}

	if o.Identifier != nil {
		s.Identifier = *o.Identifier
	}

	if o.License != nil {
		s.License = *o.License
	}

	if o.Welcome != nil {
		s.Welcome = *o.Welcome
	}

	if o.Conclusion != nil {
		s.Conclusion = *o.Conclusion
	}

	if o.Banner != nil {
		s.Banner = *o.Banner
	}

	if o.Uninstall != nil {
		s.Uninstall = *o.Uninstall
	}

	if o.NoUninstall != nil {
		s.NoUninstall = *o.NoUninstall
	}

	if o.URLs != nil {
		s.URLs = *o.URLs
	}

	if o.Installs != nil {
		s.Installs = *o.Installs
	}

	if o.Links != nil {
		s.Links = *o.Links
	}

	if o.Chmods != nil {
		s.Chmods = *o.Chmods
	}

	if o.PreInstall != nil {
		s.PreInstall = *o.PreInstall
	}

	if o.PostInstall != nil {
		s.PostInstall = *o.PostInstall
	}

	if o.Sign != nil {
		s.Sign = *o.Sign
	}

	if o.MinOSVersion != nil {
		s.MinOSVersion = *o.MinOSVersion
	}

	if o.BuildDir != nil {
		s.BuildDir = *o.BuildDir
	}

	if o.Output != nil {
		s.Output = *o.Output
	}
}

// expandHome expands a leading ~ in every user supplied path
func (s *Settings) expandHome() (err error) {
	for _, f := range []*string{
		&s.License, &s.Welcome, &s.Conclusion, &s.Banner,
		&s.Uninstall, &s.PreInstall, &s.PostInstall,
		&s.BuildDir, &s.Output,
	} {
		if *f == "" {
			continue
		}

		*f, err = homedir.Expand(*f)
		if err != nil {
			return Error{Reason: fmt.Sprintf("expanding %s: %v", *f, err)}
		}
	}

	for i := range s.Installs {
		s.Installs[i][0], err = homedir.Expand(s.Installs[i][0])
		if err != nil {
			return Error{Option: "install", Reason: err.Error()}
		}
	}

	return
}

var contentExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".html":     true,
}

// validate checks required fields, file existence, extension rules,
// and value shapes; dir anchors relative paths
func (s Settings) validate(dir string) (err error) {
	if s.App == "" {
		return Error{Option: "app", Reason: "app name must be provided"}
	}

	if s.Version == "" {
		return Error{Option: "version", Reason: "version must be provided"}
	}

	if s.NoUninstall && s.Uninstall != "" {
		return Error{Option: "uninstall", Reason: "cannot specify both an uninstall script and no-uninstall"}
	}

	for _, f := range []struct {
		option string
		path   string
	}{
		{"license", s.License},
		{"welcome", s.Welcome},
		{"conclusion", s.Conclusion},
		{"banner", s.Banner},
		{"uninstall", s.Uninstall},
		{"pre-install", s.PreInstall},
		{"post-install", s.PostInstall},
	} {
		if f.path == "" {
			continue
		}

		err = mustExist(dir, f.option, f.path)
		if err != nil {
			return
		}
	}

	for _, f := range []struct {
		option string
		path   string
	}{
		{"welcome", s.Welcome},
		{"conclusion", s.Conclusion},
	} {
		if f.path == "" {
			continue
		}

		if !contentExtensions[strings.ToLower(filepath.Ext(f.path))] {
			return Error{Option: f.option, Reason: fmt.Sprintf("%s must be a markdown or HTML file", f.path)}
		}
	}

	if s.Uninstall != "" && strings.ToLower(filepath.Ext(s.Uninstall)) != ".sh" {
		return Error{Option: "uninstall", Reason: fmt.Sprintf("%s must be a shell script", s.Uninstall)}
	}

	if s.Banner != "" {
		err = validBanner(dir, s.Banner)
		if err != nil {
			return
		}
	}

	for _, p := range s.Installs {
		err = mustExist(dir, "install", p[0])
		if err != nil {
			return
		}
	}

	for _, p := range s.Chmods {
		if !chmodPattern.MatchString(p[0]) {
			return Error{Option: "chmod", Reason: fmt.Sprintf("%q is not an octal file mode", p[0])}
		}
	}

	if s.MinOSVersion != "" {
		_, err = version.NewVersion(s.MinOSVersion)
		if err != nil {
			return Error{Option: "min-os-version", Reason: err.Error()}
		}
	}

	return nil
}

var chmodPattern = regexp.MustCompile(`^[0-7]{3,4}$`)

// validBanner checks both the extension and the content of a banner;
// a mislabelled image only fails much later, inside productbuild,
// with an opaque error
func validBanner(dir, path string) error {
	if strings.ToLower(filepath.Ext(path)) != ".png" {
		return Error{Option: "banner", Reason: fmt.Sprintf("%s must be a PNG file", path)}
	}

	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(dir, full)
	}

	d, err := os.ReadFile(full)
	if err != nil {
		return Error{Option: "banner", Reason: fmt.Sprintf("%s does not exist", path)}
	}

	kind, _ := filetype.Match(d)
	if kind.Extension != "png" {
		return Error{Option: "banner", Reason: fmt.Sprintf("%s is not a PNG image", path)}
	}

	return nil
}

func mustExist(dir, option, path string) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	_, err := os.Stat(path)
	if err != nil {
		return Error{Option: option, Reason: fmt.Sprintf("%s does not exist", path)}
	}

	return nil
}

// resolvePaths renders the path templates against the restricted
// namespace, enforces that target-machine paths come out absolute,
// and fills the identifier and output defaults
func (s *Settings) resolvePaths() (err error) {
	ns := PathNamespace(s.App, s.Version)

	expand := func(option, in string) (out string, err error) {
		out, err = render.Render(option, in, ns)
		if err != nil {
			err = Error{Option: option, Reason: err.Error()}
		}

		return
	}

	for i := range s.Installs {
		s.Installs[i][1], err = expand("install destination", s.Installs[i][1])
		if err != nil {
			return
		}

		if !filepath.IsAbs(s.Installs[i][1]) {
			return Error{Option: "install", Reason: fmt.Sprintf("destination %s must be an absolute path", s.Installs[i][1])}
		}
	}

	for i := range s.Links {
		s.Links[i][0], err = expand("link source", s.Links[i][0])
		if err != nil {
			return
		}

		s.Links[i][1], err = expand("link target", s.Links[i][1])
		if err != nil {
			return
		}

		for _, p := range s.Links[i] {
			if !filepath.IsAbs(p) {
				return Error{Option: "link", Reason: fmt.Sprintf("%s must be an absolute path", p)}
			}
		}
	}

	for i := range s.Chmods {
		s.Chmods[i][1], err = expand("chmod path", s.Chmods[i][1])
		if err != nil {
			return
		}

		if !filepath.IsAbs(s.Chmods[i][1]) {
			return Error{Option: "chmod", Reason: fmt.Sprintf("%s must be an absolute path", s.Chmods[i][1])}
		}
	}

	s.BuildDir, err = expand("build-dir", s.BuildDir)
	if err != nil {
		return
	}

	if s.BuildDir == "" {
		s.BuildDir = DefaultBuildRoot
	}

	// the configured dir is a root; staging happens under a fixed
	// subtree so that cleaning it can never eat unrelated files
	s.BuildDir = filepath.Join(s.BuildDir, "crate", "darwin")

	s.Output, err = expand("output", s.Output)
	if err != nil {
		return
	}

	if s.Output == "" {
		s.Output = filepath.Join(DefaultBuildRoot, fmt.Sprintf("%s-%s.pkg", s.App, s.Version))
	}

	if s.Identifier == "" {
		s.Identifier = defaultIdentifier(s.App)
	} else {
		s.Identifier, err = expand("identifier", s.Identifier)
		if err != nil {
			return
		}
	}

	if !identifierPattern.MatchString(s.Identifier) {
		return Error{Option: "identifier", Reason: fmt.Sprintf("%q is not a valid reverse-DNS identifier", s.Identifier)}
	}

	return nil
}
