package installer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vinyl-linux/crate/config"
)

// mockTools records invocations and pretends each tool succeeded,
// creating the artifact the real tool would have written
type mockTools struct {
	checkFunc func(tool string) error
	runFunc   func(tool string, args ...string) error

	calls [][]string
}

func (m *mockTools) Check(tool string) error {
	if m.checkFunc != nil {
		return m.checkFunc(tool)
	}

	return nil
}

func (m *mockTools) Run(tool string, args ...string) error {
	m.calls = append(m.calls, append([]string{tool}, args...))

	if m.runFunc != nil {
		return m.runFunc(tool, args...)
	}

	// pkgbuild/productbuild/productsign write their artifact to
	// the trailing argument
	if tool != "pkgutil" && len(args) > 0 {
		return os.WriteFile(args[len(args)-1], []byte(tool), 0644)
	}

	return nil
}

func (m mockTools) invoked(tool string) bool {
	for _, call := range m.calls {
		if call[0] == tool {
			return true
		}
	}

	return false
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()

	dir := t.TempDir()

	src := filepath.Join(dir, "mytool")

	err := os.WriteFile(src, []byte("#!/bin/sh\necho hi\n"), 0755)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	return config.Settings{
		App:        "mytool",
		Version:    "1.0.0",
		Identifier: "org.opensource.mytool",
		Installs:   []config.Pair{{src, "/usr/local/bin/mytool-1.0.0"}},
		Links:      []config.Pair{{"/usr/local/bin/mytool-1.0.0", "/usr/local/bin/mytool"}},
		Chmods:     []config.Pair{{"755", "/usr/local/bin/mytool-1.0.0"}},
		URLs:       []config.Pair{{"Homepage", "https://example.org/mytool"}},
		BuildDir:   filepath.Join(dir, "build", "crate", "darwin"),
		Output:     filepath.Join(dir, "out", "mytool-1.0.0.pkg"),
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()

	d, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	return string(d)
}

func TestBuilder_Build(t *testing.T) {
	s := testSettings(t)
	tools := &mockTools{}

	err := New(s, tools, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	t.Run("payload is staged under darwinpkg", func(t *testing.T) {
		staged := filepath.Join(s.BuildDir, "darwinpkg", "usr/local/bin/mytool-1.0.0")
		if _, err := os.Stat(staged); err != nil {
			t.Errorf("expected %s to exist: %v", staged, err)
		}
	})

	t.Run("uninstall script is part of the payload", func(t *testing.T) {
		script := mustRead(t, filepath.Join(s.BuildDir, "darwinpkg", "Library", "Application Support", "mytool", "1.0.0", "uninstall.sh"))

		for _, expect := range []string{
			`rm -f "/usr/local/bin/mytool"`,
			`rm -rf "/usr/local/bin/mytool-1.0.0"`,
			`rm -rf "/Library/Application Support/mytool/1.0.0"`,
		} {
			if !strings.Contains(script, expect) {
				t.Errorf("expected uninstall script to contain %q", expect)
			}
		}
	})

	t.Run("postinstall runs links before chmods", func(t *testing.T) {
		script := mustRead(t, filepath.Join(s.BuildDir, "scripts", "postinstall"))

		if got := strings.Count(script, "ln -s"); got != 1 {
			t.Errorf("expected 1 link instruction, received %d", got)
		}

		link := strings.Index(script, `ln -sf "/usr/local/bin/mytool-1.0.0" "/usr/local/bin/mytool"`)
		mode := strings.Index(script, `chmod 755 "/usr/local/bin/mytool-1.0.0"`)

		if link < 0 || mode < 0 || link > mode {
			t.Errorf("expected links before chmods, received:\n%s", script)
		}
	})

	t.Run("resources are rendered", func(t *testing.T) {
		welcome := mustRead(t, filepath.Join(s.BuildDir, "Resources", "welcome.html"))
		if !strings.Contains(welcome, "mytool 1.0.0") || !strings.Contains(welcome, "<!DOCTYPE html>") {
			t.Errorf("unexpected welcome.html:\n%s", welcome)
		}

		conclusion := mustRead(t, filepath.Join(s.BuildDir, "Resources", "conclusion.html"))
		for _, expect := range []string{
			"https://example.org/mytool",
			"/Library/Application Support/mytool/1.0.0/uninstall.sh",
		} {
			if !strings.Contains(conclusion, expect) {
				t.Errorf("expected conclusion.html to contain %q", expect)
			}
		}
	})

	t.Run("distribution names the identifier", func(t *testing.T) {
		dist := mustRead(t, filepath.Join(s.BuildDir, "Distribution"))

		if !strings.Contains(dist, `<pkg-ref id="org.opensource.mytool" version="1.0.0" auth="root">mytool.pkg</pkg-ref>`) {
			t.Errorf("unexpected Distribution:\n%s", dist)
		}

		if strings.Contains(dist, "banner.png") {
			t.Error("expected no banner block without a banner")
		}
	})

	t.Run("native tools receive the documented arguments", func(t *testing.T) {
		expect := [][]string{
			{
				"pkgbuild",
				"--identifier", "org.opensource.mytool",
				"--version", "1.0.0",
				"--scripts", filepath.Join(s.BuildDir, "scripts"),
				"--root", filepath.Join(s.BuildDir, "darwinpkg"),
				filepath.Join(s.BuildDir, "package", "mytool.pkg"),
			},
			{
				"productbuild",
				"--distribution", filepath.Join(s.BuildDir, "Distribution"),
				"--resources", filepath.Join(s.BuildDir, "Resources"),
				"--package-path", filepath.Join(s.BuildDir, "package"),
				filepath.Join(s.BuildDir, "pkg", "mytool-1.0.0.pkg"),
			},
		}

		if len(tools.calls) != len(expect) {
			t.Fatalf("expected %d tool invocations, received %d: %v", len(expect), len(tools.calls), tools.calls)
		}

		for i, call := range expect {
			if strings.Join(call, " ") != strings.Join(tools.calls[i], " ") {
				t.Errorf("expected %q, received %q", strings.Join(call, " "), strings.Join(tools.calls[i], " "))
			}
		}
	})

	t.Run("artifact lands at the output path", func(t *testing.T) {
		if _, err := os.Stat(s.Output); err != nil {
			t.Errorf("expected %s to exist: %v", s.Output, err)
		}
	})
}

func TestBuilder_Build_NoUninstall(t *testing.T) {
	s := testSettings(t)
	s.NoUninstall = true

	err := New(s, &mockTools{}, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	script := filepath.Join(s.BuildDir, "darwinpkg", "Library", "Application Support", "mytool", "1.0.0", "uninstall.sh")
	if _, err := os.Stat(script); !os.IsNotExist(err) {
		t.Errorf("expected %s not to exist", script)
	}

	conclusion := mustRead(t, filepath.Join(s.BuildDir, "Resources", "conclusion.html"))
	if strings.Contains(conclusion, "uninstall.sh") {
		t.Error("expected no uninstall instructions in conclusion.html")
	}
}

func TestBuilder_Build_NoLinks(t *testing.T) {
	s := testSettings(t)
	s.Links = nil
	s.Chmods = nil

	err := New(s, &mockTools{}, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	script := mustRead(t, filepath.Join(s.BuildDir, "scripts", "postinstall"))

	if got := strings.Count(script, "ln -s"); got != 0 {
		t.Errorf("expected 0 link instructions, received %d", got)
	}
}

func TestBuilder_Build_UserScripts(t *testing.T) {
	s := testSettings(t)

	dir := t.TempDir()
	post := filepath.Join(dir, "post.sh")

	err := os.WriteFile(post, []byte("#!/bin/sh\necho configured {{ app }}\n"), 0755)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	s.PostInstall = post

	err = New(s, &mockTools{}, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	custom := mustRead(t, filepath.Join(s.BuildDir, "scripts", "custom_postinstall"))
	if !strings.Contains(custom, "echo configured mytool") {
		t.Errorf("expected rendered user script, received:\n%s", custom)
	}

	// the wrapper must run links and chmods first, then delegate
	script := mustRead(t, filepath.Join(s.BuildDir, "scripts", "postinstall"))

	link := strings.Index(script, "ln -sf")
	mode := strings.Index(script, "chmod 755")
	delegate := strings.Index(script, `"$(dirname "$0")/custom_postinstall"`)

	if link < 0 || mode < 0 || delegate < 0 || !(link < mode && mode < delegate) {
		t.Errorf("expected links, then chmods, then the user script, received:\n%s", script)
	}
}

func TestBuilder_Build_HTMLWelcomePassesThrough(t *testing.T) {
	s := testSettings(t)

	dir := t.TempDir()
	welcome := filepath.Join(dir, "welcome.html")

	err := os.WriteFile(welcome, []byte("<p>hello from {{ app }}</p>\n"), 0644)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	s.Welcome = welcome

	err = New(s, &mockTools{}, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	got := mustRead(t, filepath.Join(s.BuildDir, "Resources", "welcome.html"))
	expect := "<p>hello from mytool</p>\n"

	if got != expect {
		t.Errorf("expected %q, received %q", expect, got)
	}
}

func TestBuilder_Build_SignEnvUnset(t *testing.T) {
	os.Unsetenv("MY_CERT")

	s := testSettings(t)
	s.Sign = "$MY_CERT"

	tools := &mockTools{}

	err := New(s, tools, nil, nil).Build()
	if err == nil {
		t.Fatal("expected error, received none")
	}

	if !strings.Contains(err.Error(), "MY_CERT") {
		t.Errorf("expected error naming MY_CERT, received %q", err.Error())
	}

	// the failure belongs to the signing stage; the package and
	// product builds must already have happened
	for _, tool := range []string{"pkgbuild", "productbuild"} {
		if !tools.invoked(tool) {
			t.Errorf("expected %s to have been invoked", tool)
		}
	}

	if tools.invoked("productsign") {
		t.Error("expected productsign not to have been invoked")
	}
}

func TestBuilder_Build_Signed(t *testing.T) {
	t.Setenv("MY_CERT", "Example Corp (ABCDE12345)")

	s := testSettings(t)
	s.Sign = "$MY_CERT"

	tools := &mockTools{}

	err := New(s, tools, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	signed := filepath.Join(s.BuildDir, "pkg-signed", "mytool-1.0.0.pkg")

	var sawSign, sawCheck bool

	for _, call := range tools.calls {
		switch call[0] {
		case "productsign":
			sawSign = true

			expect := []string{"productsign", "--sign", "Developer ID Installer: Example Corp (ABCDE12345)", filepath.Join(s.BuildDir, "pkg", "mytool-1.0.0.pkg"), signed}
			if strings.Join(call, " ") != strings.Join(expect, " ") {
				t.Errorf("expected %q, received %q", strings.Join(expect, " "), strings.Join(call, " "))
			}

		case "pkgutil":
			sawCheck = true

			if call[1] != "--check-signature" || call[2] != signed {
				t.Errorf("unexpected pkgutil invocation: %v", call)
			}
		}
	}

	if !sawSign || !sawCheck {
		t.Errorf("expected both productsign and pkgutil to run; sign=%v check=%v", sawSign, sawCheck)
	}

	// the signed artifact is the one published
	if got := mustRead(t, s.Output); got != "productsign" {
		t.Errorf("expected the signed product at %s, received %q", s.Output, got)
	}
}

func TestBuilder_Build_PastedIdentityPrefixIsStripped(t *testing.T) {
	s := testSettings(t)
	s.Sign = "Developer ID Installer: Example Corp (ABCDE12345)"

	tools := &mockTools{}

	err := New(s, tools, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	for _, call := range tools.calls {
		if call[0] != "productsign" {
			continue
		}

		if call[2] != "Developer ID Installer: Example Corp (ABCDE12345)" {
			t.Errorf("expected a single identity prefix, received %q", call[2])
		}
	}
}

func TestBuilder_Build_ToolFailure(t *testing.T) {
	s := testSettings(t)

	tools := &mockTools{
		runFunc: func(tool string, args ...string) error {
			return ToolError{Tool: tool, ExitCode: 1, Output: "pkgbuild: error: no such identifier"}
		},
	}

	err := New(s, tools, nil, nil).Build()
	if err == nil {
		t.Fatal("expected error, received none")
	}

	var terr ToolError
	if !errors.As(err, &terr) {
		t.Fatalf("expected ToolError, received %T", err)
	}

	if terr.Tool != "pkgbuild" {
		t.Errorf("expected %q, received %q", "pkgbuild", terr.Tool)
	}

	// the native tool's own diagnostics survive verbatim
	if !strings.Contains(err.Error(), "pkgbuild: error: no such identifier") {
		t.Errorf("expected verbatim tool output, received %q", err.Error())
	}

	if len(tools.calls) != 1 {
		t.Errorf("expected the pipeline to stop at the first failure, received %d calls", len(tools.calls))
	}
}

func TestBuilder_Build_MissingTool(t *testing.T) {
	s := testSettings(t)

	tools := &mockTools{
		checkFunc: func(tool string) error {
			if tool == "productbuild" {
				return errors.New("productbuild is not installed")
			}

			return nil
		},
	}

	err := New(s, tools, nil, nil).Build()
	if err == nil {
		t.Fatal("expected error, received none")
	}

	if len(tools.calls) != 0 {
		t.Errorf("expected no tool invocations, received %d", len(tools.calls))
	}

	// nothing may be staged before the dependency check passes
	if _, serr := os.Stat(s.BuildDir); !os.IsNotExist(serr) {
		t.Errorf("expected %s not to exist", s.BuildDir)
	}
}

func TestBuilder_Build_StagingSurvivesFailure(t *testing.T) {
	s := testSettings(t)

	tools := &mockTools{
		runFunc: func(tool string, args ...string) error {
			return ToolError{Tool: tool, ExitCode: 1, Output: "boom"}
		},
	}

	err := New(s, tools, nil, nil).Build()
	if err == nil {
		t.Fatal("expected error, received none")
	}

	// the staging tree is deliberately left behind for diagnosis
	if _, serr := os.Stat(filepath.Join(s.BuildDir, "scripts", "postinstall")); serr != nil {
		t.Errorf("expected staging to survive failure: %v", serr)
	}
}

func TestBuilder_Build_DirectoryInstall(t *testing.T) {
	s := testSettings(t)

	dir := t.TempDir()
	sub := filepath.Join(dir, "share", "docs")

	err := os.MkdirAll(sub, 0755)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	err = os.WriteFile(filepath.Join(sub, "guide.txt"), []byte("read me\n"), 0644)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	s.Installs = append(s.Installs, config.Pair{filepath.Join(dir, "share"), "/usr/local/share/mytool"})

	err = New(s, &mockTools{}, nil, nil).Build()
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	staged := filepath.Join(s.BuildDir, "darwinpkg", "usr/local/share/mytool", "docs", "guide.txt")
	if got := mustRead(t, staged); got != "read me\n" {
		t.Errorf("expected %q, received %q", "read me\n", got)
	}
}

func TestMarkdownToHTML(t *testing.T) {
	html, err := markdownToHTML("# Title\n\nsome *text*\n")
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}

	for _, expect := range []string{"<!DOCTYPE html>", "<h1", "Title", "<em>text</em>"} {
		if !strings.Contains(html, expect) {
			t.Errorf("expected HTML to contain %q, received:\n%s", expect, html)
		}
	}
}

func TestToolError_Error(t *testing.T) {
	err := ToolError{Tool: "productbuild", ExitCode: 2, Output: "some diagnostic"}

	expect := "productbuild exited 2\nsome diagnostic"
	if err.Error() != expect {
		t.Errorf("expected %q, received %q", expect, err.Error())
	}
}
