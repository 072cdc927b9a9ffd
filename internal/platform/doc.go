// Package platform adapts the device services consumed by the installer:
// the update engine client, the recovery command file, the slot layout and
// the encrypted storage roots.
package platform
