// Package pkgfile provides read-only inspection of existing macOS
// installer packages: metadata, file listings, and full extraction.
//
// Like the build pipeline, it treats the platform tools (xar, tar,
// pkgutil) as opaque commands
package pkgfile

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/h2non/filetype"
	"github.com/vinyl-linux/crate/installer"
)

// Attr is one attribute of the package's PackageInfo descriptor;
// attributes are returned in document order
type Attr struct {
	Key   string
	Value string
}

// run invokes a native tool and captures its output; it lives in a
// var so tests can stub the platform toolchain out
var run = func(tool string, args ...string) (string, error) {
	out, err := exec.Command(tool, args...).CombinedOutput()
	if err == nil {
		return string(out), nil
	}

	code := -1

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	return "", installer.ToolError{
		Tool:     tool,
		ExitCode: code,
		Output:   string(out),
	}
}

// Info returns the attributes of the package's PackageInfo
// descriptor
func Info(pkg string) (attrs []Attr, err error) {
	dir, err := tempExtract(pkg)
	if dir != "" {
		defer os.RemoveAll(dir)
	}

	if err != nil {
		return
	}

	components, err := componentDirs(dir)
	if err != nil {
		return
	}

	d, err := os.ReadFile(filepath.Join(components[0], "PackageInfo"))
	if err != nil {
		return nil, fmt.Errorf("no PackageInfo found in %s: %w", pkg, err)
	}

	return parsePackageInfo(d)
}

// PayloadFiles lists the files the package would install, as
// reported by pkgutil
func PayloadFiles(pkg string) (files []string, err error) {
	err = sniff(pkg)
	if err != nil {
		return
	}

	out, err := run("pkgutil", "--payload-files", pkg)
	if err != nil {
		return
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}

	return
}

// Files lists every file inside the package archive, payload and
// metadata alike
func Files(pkg string) (files []string, err error) {
	dir, err := tempExtract(pkg)
	if dir != "" {
		defer os.RemoveAll(dir)
	}

	if err != nil {
		return
	}

	err = filepath.Walk(dir, func(path string, info fs.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}

		if info.IsDir() {
			return nil
		}

		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return rerr
		}

		files = append(files, rel)

		return nil
	})
	if err != nil {
		return
	}

	sort.Strings(files)

	return
}

// Extract expands the package archive, and the Payload and Scripts
// archives of each component package, into dest. dest is created if
// missing; a non-empty or unwritable dest is an error before any
// extraction happens
func Extract(pkg, dest string) (err error) {
	err = sniff(pkg)
	if err != nil {
		return
	}

	info, serr := os.Stat(dest)

	switch {
	case serr == nil && !info.IsDir():
		return fmt.Errorf("%s is not a directory", dest)

	case serr == nil:
		var entries []os.DirEntry

		entries, err = os.ReadDir(dest)
		if err != nil {
			return fmt.Errorf("reading %s: %w", dest, err)
		}

		if len(entries) > 0 {
			return fmt.Errorf("%s is not empty", dest)
		}

	default:
		err = os.MkdirAll(dest, 0755)
		if err != nil {
			return fmt.Errorf("creating %s: %w", dest, err)
		}
	}

	probe := filepath.Join(dest, ".crate-extract")

	err = os.WriteFile(probe, nil, 0644)
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dest, err)
	}

	os.Remove(probe)

	_, err = run("xar", "-xf", pkg, "-C", dest)
	if err != nil {
		return
	}

	components, err := componentDirs(dest)
	if err != nil {
		return
	}

	for _, component := range components {
		for _, archive := range []string{"Payload", "Scripts"} {
			path := filepath.Join(component, archive)

			if _, serr := os.Stat(path); serr != nil {
				continue
			}

			_, err = run("tar", "-xzf", path, "-C", component)
			if err != nil {
				return
			}
		}
	}

	return
}

// tempExtract expands pkg into a fresh temporary directory; callers
// must remove the returned directory themselves
func tempExtract(pkg string) (dir string, err error) {
	dir, err = os.MkdirTemp("", "crate-pkg")
	if err != nil {
		return
	}

	err = Extract(pkg, dir)

	return
}

// componentDirs returns the expanded component package directories,
// recognisable by their .pkg suffix
func componentDirs(dir string) (dirs []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), ".pkg") {
			dirs = append(dirs, filepath.Join(dir, entry.Name()))
		}
	}

	if len(dirs) == 0 {
		err = fmt.Errorf("no component package found in expanded archive")
	}

	return
}

// parsePackageInfo pulls the attributes off the pkg-info element,
// preserving document order
func parsePackageInfo(d []byte) (attrs []Attr, err error) {
	dec := xml.NewDecoder(bytes.NewReader(d))

	for {
		tok, terr := dec.Token()
		if terr == io.EOF {
			break
		}

		if terr != nil {
			return nil, fmt.Errorf("parsing PackageInfo: %w", terr)
		}

		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "pkg-info" {
			continue
		}

		for _, a := range se.Attr {
			attrs = append(attrs, Attr{Key: a.Name.Local, Value: a.Value})
		}

		return
	}

	return nil, fmt.Errorf("no pkg-info element in PackageInfo")
}

// sniff rejects inputs that are not xar archives before any tool
// runs against them
func sniff(pkg string) error {
	f, err := os.Open(pkg)
	if err != nil {
		return fmt.Errorf("opening %s: %w", pkg, err)
	}

	defer f.Close()

	head := make([]byte, 262)
	n, _ := io.ReadFull(f, head)

	kind, _ := filetype.Match(head[:n])
	if kind.Extension != "xar" {
		return fmt.Errorf("%s is not an installer package (xar archive)", pkg)
	}

	return nil
}
