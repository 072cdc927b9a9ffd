// Package install decides how an update package is applied and runs the
// chosen path.
//
// A Dispatcher resolves the payload location and header properties of a
// package, picks a Strategy with Select and hands the package to the streaming
// engine, to the full-image installer, or to a DecryptingInstaller that first
// produces a decrypted copy. The platform services are consumed through the
// small interfaces declared here.
package install
