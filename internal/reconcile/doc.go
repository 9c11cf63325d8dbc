// Package reconcile compares the discovered source inventory against a live
// destination listing and decides create-versus-skip per repository before
// anything is mutated.
package reconcile
