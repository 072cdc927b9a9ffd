// Package inspect prints where the streaming payload of an update package
// starts and which header properties it carries.
package inspect
