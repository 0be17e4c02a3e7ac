//go:build !darwin && !windows

package scan

// FullSystemRoot is the directory holding user home directories.
func fullSystemRoot() string { return "/home" }
