package webassets

import "embed"

// FS contains embedded web assets from this directory.
//
//go:embed index.html auth-client.js
var FS embed.FS
