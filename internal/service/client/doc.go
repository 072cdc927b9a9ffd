// Package client implements the ota-client commands.
//
// The commands connect to the update daemon to start an update, print or
// follow its status and cancel a running decrypt job.
package client
