// Package web embeds the server-rendered HTML templates so the binary runs
// without a templates directory next to it.
//
// Each page file defines a "content" block (and optionally "title") that
// fills the slots in base.html's "base" template.
package web

import "embed"

//go:embed templates/*.html
var Templates embed.FS
