// Package migrations embeds all SQL migration files so the binary is self-contained.
// helmd runs as a menu-bar app's background agent, launched from an
// unpredictable working directory where ./migrations/ does not exist.
package migrations

import "embed"

// FS contains all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
