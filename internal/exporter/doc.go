// Package exporter renders report chunks into spreadsheet workbooks and hands
// them to sinks.
//
// WorkbookRenderer builds one excelize workbook per chunk with a header block,
// the data table, a total row and a summary block. The combined report is a
// single workbook with a summary sheet followed by the payments and users sheets.
//
// Sinks decide what happens to a rendered artifact:
//
//	DirectorySink  writes <root>/<run_id>/<file_name>
//	MemorySink     keeps artifacts in memory
//	SheetsSink     appends a run log row to a Google Sheets spreadsheet
//	MultiSink      fans out to several sinks
package exporter
