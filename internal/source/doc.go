// Package source reads the admin API collections a report is built from.
//
// The upstream exposes two paged collections (payments and users) and a
// per-user detail endpoint. Client adds the bearer credential, rate limiting
// and a request timeout to every call. PagedFetcher walks a collection page by
// page until an empty page is returned. Enricher looks up individual users
// concurrently with bounded parallelism; a failed lookup is logged and skipped.
//
// Errors returned by this package wrap ErrUnavailable or ErrUnauthenticated so
// callers can map them onto the run error taxonomy with errors.Is.
package source
