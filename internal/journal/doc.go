// Package journal records what happened to chat across runs.
//
// EventLog is an append-only, timestamp-prefixed text file with one line per
// join, part, reject or error. Store keeps one Session record per server or client
// run in Badger, Summarize and ExportJSON turn stored sessions into a report.
package journal
