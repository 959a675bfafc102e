// Package http implements the HTTP handlers of the report service. Handlers
// stay thin: they decode and validate the request, call the run service and
// render the result. Every error is written as an RFC 7807 problem document by
// errors.ErrorHandler.
//
// Routes mounted by the application:
//
//	POST /api/reports/runs                          start a run (202)
//	GET  /api/reports/runs                          run history, newest first
//	GET  /api/reports/runs/current                  snapshot of the in-flight run
//	GET  /api/reports/runs/{id}                     one run record
//	POST /api/reports/runs/{id}/cancel              cancel the in-flight run
//	GET  /api/reports/runs/{id}/artifacts/{name}    download a workbook
//	GET  /api/health, /api/health/live, /api/health/ready
//
// The bearer credential for the upstream API is taken from the Authorization
// header of the request and never stored.
package http
