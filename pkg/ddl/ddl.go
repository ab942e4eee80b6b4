// Package ddl holds SQL statements that create or upgrade the quota catalog
// schema for quotad.
package ddl

import _ "embed"

//go:embed "store.sql"
var DDL string
