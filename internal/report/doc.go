// Package report renders run statistics for operator consumption. Rendering
// is a pure function of the frozen statistics; it never mutates them and
// never fails, including for empty and all-failed runs.
package report
