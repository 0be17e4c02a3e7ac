package scan

import (
	"os"
	"path/filepath"
)

func fullSystemRoot() string {
	d := os.Getenv("SystemDrive")
	if d == "" {
		d = "C:"
	}
	return filepath.Join(d+`\`, "Users")
}
