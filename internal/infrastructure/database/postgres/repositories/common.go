// Package repositories provides the PostgreSQL-backed persistence layer:
// observation tables, fit runs with their random effects, and residual
// reports.  Every method takes a context.Context and uses parameterised
// queries exclusively.
package repositories

// rowScanner abstracts sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}
