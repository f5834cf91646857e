package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vinyl-linux/crate/config"
	"github.com/vinyl-linux/crate/installer"
)

// pairList collects repeatable "FIRST,SECOND" flags, such as
// --install SRC,DEST
type pairList []config.Pair

func (p *pairList) String() string {
	elems := make([]string, len(*p))
	for i, pair := range *p {
		elems[i] = fmt.Sprintf("%s,%s", pair[0], pair[1])
	}

	return strings.Join(elems, " ")
}

func (p *pairList) Set(s string) error {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected two comma separated values, received %q", s)
	}

	*p = append(*p, config.Pair{parts[0], parts[1]})

	return nil
}

func (p *pairList) Type() string { return "pair" }

// Flag values
var (
	app          string
	appVersion   string
	identifier   string
	licenseFile  string
	welcomeFile  string
	conclusion   string
	uninstall    string
	noUninstall  bool
	banner       string
	urls         pairList
	installs     pairList
	links        pairList
	chmods       pairList
	preInstall   string
	postInstall  string
	sign         string
	minOSVersion string
	buildDir     string
	output       string
	configFile   string
	quiet        bool
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "build an installer package",
	Long: `build an installer package from crate.toml, a [tool.crate] table in
pyproject.toml, and/or the flags below; flags always win`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// errors past this point are config or build errors, not
		// usage errors
		cmd.SilenceUsage = true

		wd, err := os.Getwd()
		if err != nil {
			return errWrap("determining working directory", err)
		}

		s, err := config.Resolve(config.Options{
			ConfigFile: configFile,
			Dir:        wd,
			Overrides:  overridesFromFlags(cmd),
		})
		if err != nil {
			return err
		}

		return installer.New(s, installer.NewTools(), echoer(cmd.OutOrStdout(), quiet), sugar).Build()
	},
}

// overridesFromFlags maps explicitly passed flags onto Overrides;
// Changed (rather than the value being non-zero) is what lets an
// explicit falsy flag, such as --no-uninstall, beat a config file
func overridesFromFlags(cmd *cobra.Command) (o config.Overrides) {
	f := cmd.Flags()

	for _, flag := range []struct {
		name string
		set  func()
	}{
		{"app", func() { o.App = &app }},
		{"version", func() { o.Version = &appVersion }},
		{"identifier", func() { o.Identifier = &identifier }},
		{"license", func() { o.License = &licenseFile }},
		{"welcome", func() { o.Welcome = &welcomeFile }},
		{"conclusion", func() { o.Conclusion = &conclusion }},
		{"uninstall", func() { o.Uninstall = &uninstall }},
		{"no-uninstall", func() { o.NoUninstall = &noUninstall }},
		{"banner", func() { o.Banner = &banner }},
		{"url", func() { v := []config.Pair(urls); o.URLs = &v }},
		{"install", func() { v := []config.Pair(installs); o.Installs = &v }},
		{"link", func() { v := []config.Pair(links); o.Links = &v }},
		{"chmod", func() { v := []config.Pair(chmods); o.Chmods = &v }},
		{"pre-install", func() { o.PreInstall = &preInstall }},
		{"post-install", func() { o.PostInstall = &postInstall }},
		{"sign", func() { o.Sign = &sign }},
		{"min-os-version", func() { o.MinOSVersion = &minOSVersion }},
		{"build-dir", func() { o.BuildDir = &buildDir }},
		{"output", func() { o.Output = &output }},
	} {
		if f.Changed(flag.name) {
			flag.set()
		}
	}

	return
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&app, "app", "a", "", "app name")
	buildCmd.Flags().StringVarP(&appVersion, "version", "v", "", "app version")
	buildCmd.Flags().StringVar(&identifier, "identifier", "", `package identifier; defaults to org.opensource.<app>. May use template variables {{ app }}, {{ version }}, {{ machine }}`)
	buildCmd.Flags().StringVarP(&licenseFile, "license", "l", "", "path to license file; when provided, the user is prompted to accept it")
	buildCmd.Flags().StringVarP(&welcomeFile, "welcome", "w", "", "path to welcome markdown or HTML file")
	buildCmd.Flags().StringVarP(&conclusion, "conclusion", "c", "", "path to conclusion markdown or HTML file")
	buildCmd.Flags().StringVarP(&uninstall, "uninstall", "u", "", "path to uninstall script; when unset, one is generated. See also --no-uninstall")
	buildCmd.Flags().BoolVarP(&noUninstall, "no-uninstall", "U", false, "do not include an uninstall script in the package")
	buildCmd.Flags().VarP(&urls, "url", "L", "NAME,URL link to show in the conclusion; repeatable")
	buildCmd.Flags().StringVarP(&banner, "banner", "b", "", "path to a PNG banner image for the installer")
	buildCmd.Flags().VarP(&installs, "install", "i", `SRC,DEST pair to install; DEST must be absolute and may use template variables, e.g. "dist/app,/usr/local/bin/{{ app }}-{{ version }}"; repeatable`)
	buildCmd.Flags().VarP(&links, "link", "k", "SRC,TARGET symlink to create after installation; both absolute, both may use template variables; repeatable")
	buildCmd.Flags().VarP(&chmods, "chmod", "m", "MODE,PATH permission to apply after installation; repeatable")
	buildCmd.Flags().StringVar(&preInstall, "pre-install", "", "path to pre-install script")
	buildCmd.Flags().StringVarP(&postInstall, "post-install", "p", "", "path to post-install script; runs after links and chmods")
	buildCmd.Flags().StringVarP(&sign, "sign", "s", "", "signing identity, or $NAME to read it from the environment at signing time")
	buildCmd.Flags().StringVar(&minOSVersion, "min-os-version", "", "minimum macOS version the installer accepts")
	buildCmd.Flags().StringVarP(&buildDir, "build-dir", "d", "", "build directory; staging happens under <dir>/crate/darwin")
	buildCmd.Flags().StringVarP(&output, "output", "o", "", `output path for the final package; may use template variables, e.g. "{{ app }}-{{ version }}.pkg"`)
	buildCmd.Flags().StringVar(&configFile, "config", "", "explicit config file (instead of discovering crate.toml/pyproject.toml)")
	buildCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")
}
