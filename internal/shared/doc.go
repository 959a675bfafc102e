// Package shared holds code used across the report service that belongs to no
// single layer.
//
// The testutil subpackage provides the test fixtures shared by several packages:
//
//	- a fake upstream admin API (httptest) serving paged payments and users
//	- record builders for payments and users
//	- a slog handler that captures records for assertions
package shared
