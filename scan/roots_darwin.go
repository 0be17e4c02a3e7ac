package scan

func fullSystemRoot() string { return "/Users" }
