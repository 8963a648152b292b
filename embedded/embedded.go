package embedded

import _ "embed"

// Database migrations.

// DBMigration1x0 creates the table holding the event snapshot.
//
//go:embed sql/1x0.sql
var DBMigration1x0 string
