// Package reports turns fetched upstream records into report rows.
//
// Joiner normalizes raw records once (alias resolution, status and tariff
// vocabularies) and attaches user contact fields to payments. Filter applies
// the date, status, tariff and search predicates and re-sorts the result.
// Split cuts the filtered set into chunks and the Summarize functions compute
// the aggregates shown under each data sheet.
package reports
