// Package db holds the embedded relational schema for the order core.
package db

import _ "embed"

// Schema contains the DDL for all storefront tables and indexes.
//
//go:embed migrations/001_schema.sql
var Schema string
