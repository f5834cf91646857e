package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinyl-linux/crate/config"
	"github.com/vinyl-linux/crate/render"
	"go.uber.org/zap"
)

// requiredTools are the native commands a build shells out to; all
// of them must be present before any staging happens
var requiredTools = []string{"pkgbuild", "productbuild", "productsign", "pkgutil"}

// EchoFunc receives human facing progress messages
type EchoFunc func(format string, args ...interface{})

// Builder turns one resolved Settings into a final installer
// package.
//
// A Builder owns its staging directory for the duration of one
// build; two builds sharing a build dir is unsupported. Stages run
// strictly in order, the first error aborts the build, and the
// staging tree is left in place on failure for diagnosis
type Builder struct {
	s     config.Settings
	tools Tools
	echo  EchoFunc
	sugar *zap.SugaredLogger

	// set by the signing stage; publish prefers it over the
	// unsigned product
	signed string
}

// New returns a Builder over s. echo and sugar may be nil, in which
// case progress is discarded
func New(s config.Settings, tools Tools, echo EchoFunc, sugar *zap.SugaredLogger) *Builder {
	if echo == nil {
		echo = func(string, ...interface{}) {}
	}

	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}

	return &Builder{
		s:     s,
		tools: tools,
		echo:  echo,
		sugar: sugar,
	}
}

// Build runs the pipeline to completion, leaving the final artifact
// at the resolved output path
func (b *Builder) Build() (err error) {
	b.echo("Building installer package for %s version %s", b.s.App, b.s.Version)

	for _, stage := range []struct {
		name string
		fn   func() error
	}{
		{"checking dependencies", b.checkTools},
		{"cleaning build directory", b.cleanBuildDir},
		{"staging payload", b.stagePayload},
		{"rendering resources", b.renderResources},
		{"rendering uninstall script", b.renderUninstall},
		{"rendering install scripts", b.renderScripts},
		{"rendering distribution", b.renderDistribution},
		{"building component package", b.buildPackage},
		{"building product package", b.buildProduct},
		{"signing product", b.signProduct},
		{"publishing", b.publish},
	} {
		b.sugar.Infow("running stage", "stage", stage.name)

		err = stage.fn()
		if err != nil {
			b.sugar.Errorw("stage failed", "stage", stage.name, "error", err)

			return
		}
	}

	return
}

// path joins elem onto the staging directory
func (b Builder) path(elem ...string) string {
	return filepath.Join(append([]string{b.s.BuildDir}, elem...)...)
}

func (b Builder) productPath() string {
	return b.path("pkg", fmt.Sprintf("%s-%s.pkg", b.s.App, b.s.Version))
}

func (b Builder) checkTools() (err error) {
	for _, tool := range requiredTools {
		err = b.tools.Check(tool)
		if err != nil {
			return
		}
	}

	return
}

func (b Builder) cleanBuildDir() (err error) {
	b.echo("Cleaning build directory %s", b.s.BuildDir)

	entries, err := os.ReadDir(b.s.BuildDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cleaning %s: %w", b.s.BuildDir, err)
	}

	for _, entry := range entries {
		err = os.RemoveAll(filepath.Join(b.s.BuildDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("cleaning %s: %w", b.s.BuildDir, err)
		}
	}

	for _, dir := range []string{"Resources", "scripts", "darwinpkg", "package", "pkg"} {
		err = os.MkdirAll(b.path(dir), 0755)
		if err != nil {
			return fmt.Errorf("creating %s: %w", b.path(dir), err)
		}
	}

	return nil
}

func (b Builder) stagePayload() (err error) {
	for _, pair := range b.s.Installs {
		src, dest := pair[0], pair[1]
		target := filepath.Join(b.path("darwinpkg"), strings.TrimPrefix(dest, "/"))

		b.echo("Copying %s to %s", src, target)

		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("staging %s: %w", src, err)
		}

		if info.IsDir() {
			err = cpDir(src, target)
		} else {
			err = cp(src, target)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (b Builder) renderResources() (err error) {
	err = b.createHTML(b.s.Welcome, b.path("Resources", "welcome.html"), "welcome.md")
	if err != nil {
		return
	}

	err = b.createHTML(b.s.Conclusion, b.path("Resources", "conclusion.html"), "conclusion.md")
	if err != nil {
		return
	}

	if b.s.License != "" {
		b.echo("Copying license file")

		err = cp(b.s.License, b.path("Resources", "LICENSE.txt"))
		if err != nil {
			return
		}
	}

	if b.s.Banner != "" {
		b.echo("Copying banner image")

		err = cp(b.s.Banner, b.path("Resources", "banner.png"))
	}

	return
}

func (b Builder) renderUninstall() (err error) {
	if b.s.NoUninstall {
		return
	}

	// the script lands inside the payload, so it persists on the
	// target machine for later invocation
	target := filepath.Join(b.path("darwinpkg"), "Library", "Application Support", b.s.App, b.s.Version, "uninstall.sh")

	if b.s.Uninstall != "" {
		return b.renderFileTo(b.s.Uninstall, target, 0755)
	}

	text, err := defaultTemplate("uninstall.sh")
	if err != nil {
		return
	}

	return b.renderTo("uninstall.sh", text, target, 0755)
}

func (b Builder) renderScripts() (err error) {
	for _, script := range []string{"preinstall", "postinstall"} {
		var text string

		text, err = defaultTemplate(script)
		if err != nil {
			return
		}

		err = b.renderTo(script, text, b.path("scripts", script), 0755)
		if err != nil {
			return
		}
	}

	if b.s.PreInstall != "" {
		err = b.renderFileTo(b.s.PreInstall, b.path("scripts", "custom_preinstall"), 0755)
		if err != nil {
			return
		}
	}

	if b.s.PostInstall != "" {
		err = b.renderFileTo(b.s.PostInstall, b.path("scripts", "custom_postinstall"), 0755)
	}

	return
}

func (b Builder) renderDistribution() (err error) {
	text, err := defaultTemplate("Distribution")
	if err != nil {
		return
	}

	return b.renderTo("Distribution", text, b.path("Distribution"), 0644)
}

func (b Builder) buildPackage() (err error) {
	out := b.path("package", fmt.Sprintf("%s.pkg", b.s.App))

	err = b.tools.Run("pkgbuild",
		"--identifier", b.s.Identifier,
		"--version", b.s.Version,
		"--scripts", b.path("scripts"),
		"--root", b.path("darwinpkg"),
		out,
	)
	if err != nil {
		return
	}

	b.echo("Created %s", out)

	return
}

func (b Builder) buildProduct() (err error) {
	err = b.tools.Run("productbuild",
		"--distribution", b.path("Distribution"),
		"--resources", b.path("Resources"),
		"--package-path", b.path("package"),
		b.productPath(),
	)
	if err != nil {
		return
	}

	b.echo("Created %s", b.productPath())

	return
}

func (b *Builder) signProduct() (err error) {
	if b.s.Sign == "" {
		return
	}

	identity, err := b.signIdentity()
	if err != nil {
		return
	}

	signed := b.path("pkg-signed", fmt.Sprintf("%s-%s.pkg", b.s.App, b.s.Version))

	err = os.MkdirAll(filepath.Dir(signed), 0755)
	if err != nil {
		return fmt.Errorf("signing: %w", err)
	}

	b.echo("Signing %s", b.productPath())

	err = b.tools.Run("productsign",
		"--sign", fmt.Sprintf("Developer ID Installer: %s", identity),
		b.productPath(),
		signed,
	)
	if err != nil {
		return
	}

	err = b.tools.Run("pkgutil", "--check-signature", signed)
	if err != nil {
		return
	}

	b.signed = signed

	return
}

// signIdentity resolves the configured signing identity: a pasted
// "Developer ID Installer: " prefix is stripped, and a $NAME value
// is read from the environment here, at use time, so that unsigned
// builds never touch the environment
func (b Builder) signIdentity() (identity string, err error) {
	identity = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(b.s.Sign), "Developer ID Installer:"))

	if strings.HasPrefix(identity, "$") {
		name := identity[1:]

		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return "", fmt.Errorf("signing: environment variable %s is not set", name)
		}

		identity = v
	}

	return
}

func (b Builder) publish() (err error) {
	src := b.productPath()
	if b.signed != "" {
		src = b.signed
	}

	err = os.MkdirAll(filepath.Dir(b.s.Output), 0755)
	if err != nil {
		return fmt.Errorf("publishing: %w", err)
	}

	err = cp(src, b.s.Output)
	if err != nil {
		return
	}

	sum, err := checksum(b.s.Output)
	if err != nil {
		return
	}

	b.echo("Created %s", b.s.Output)
	b.echo("blake3: %s", sum)

	return
}

// renderTo renders text against the full namespace and writes the
// result
func (b Builder) renderTo(name, text, output string, mode os.FileMode) (err error) {
	out, err := render.Render(name, text, b.s.Namespace())
	if err != nil {
		return
	}

	err = os.MkdirAll(filepath.Dir(output), 0755)
	if err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	err = os.WriteFile(output, []byte(out), mode)
	if err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	b.echo("Created %s", output)

	return
}

// renderFileTo renders a user supplied template file
func (b Builder) renderFileTo(input, output string, mode os.FileMode) (err error) {
	d, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("reading %s: %w", input, err)
	}

	return b.renderTo(filepath.Base(input), string(d), output, mode)
}

// createHTML renders welcome/conclusion content to HTML; Markdown
// input (or a built-in default) is converted, an .html input is
// rendered as-is
func (b Builder) createHTML(input, output, fallback string) (err error) {
	var (
		name, text string
		convert    = true
	)

	if input == "" {
		name = fallback

		text, err = defaultTemplate(fallback)
		if err != nil {
			return
		}
	} else {
		name = filepath.Base(input)

		var d []byte

		d, err = os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("reading %s: %w", input, err)
		}

		text = string(d)

		ext := strings.ToLower(filepath.Ext(input))
		convert = ext == ".md" || ext == ".markdown"
	}

	out, err := render.Render(name, text, b.s.Namespace())
	if err != nil {
		return
	}

	if convert {
		out, err = markdownToHTML(out)
		if err != nil {
			return
		}
	}

	err = os.MkdirAll(filepath.Dir(output), 0755)
	if err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	err = os.WriteFile(output, []byte(out), 0644)
	if err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	b.echo("Created %s", output)

	return
}
