package installer

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// htmlShell wraps converted Markdown; the installer UI renders the
// result in a small web view
const htmlShell = `<!DOCTYPE html>
<html>
<head> <meta charset="utf-8" /> <style> body { font-family: Helvetica, sans-serif; font-size: 14px; } </style> </head>
<body>
%s</body>
</html>
`

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Footnote,
	),
)

// markdownToHTML converts Markdown source to a complete HTML
// document
func markdownToHTML(src string) (html string, err error) {
	b := &bytes.Buffer{}

	err = markdown.Convert([]byte(src), b)
	if err != nil {
		return
	}

	html = fmt.Sprintf(htmlShell, b.String())

	return
}
