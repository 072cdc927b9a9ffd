// Package status implements persistence for the published install Status.
//
// The FileRepository stores and loads the status as JSON on disk, guards the
// file with an advisory lock so the daemon and the one-shot CLI can share it,
// and can follow changes made by other processes.
package status
