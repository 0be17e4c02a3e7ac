package walk

import (
	"errors"
	"io"
	"iter"
	"os"
)

// Entry is one child of a listed directory.
type Entry struct {
	Name string
	// Dir is set for directories that should be descended into.
	Dir bool
	// Regular is set for regular files.
	Regular bool
}

// Lister abstracts directory enumeration.
//
// List must never produce the "." or ".." pseudo-entries. A Lister's
// sequences are lazy and each call to List starts a fresh enumeration.
type Lister interface {
	// Stat reports what kind of entry "path" is. The Name of the returned
	// Entry is the base name.
	Stat(path string) (Entry, error)
	// List yields the children of the directory "dir". An error is yielded
	// at most once and ends the sequence.
	List(dir string) iter.Seq2[Entry, error]
}

// OS is a [Lister] backed by the host filesystem.
//
// Symbolic links are reported as neither directories nor regular files, so
// they are never followed or yielded by a [Walk].
type OS struct {
	// Batch is the number of entries read from the directory at a time.
	// Zero means 256.
	Batch int
}

var _ Lister = OS{}

// Stat implements [Lister].
//
// The root of a walk is resolved through symbolic links.
func (o OS) Stat(path string) (Entry, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Name:    fi.Name(),
		Dir:     fi.IsDir(),
		Regular: fi.Mode().IsRegular(),
	}, nil
}

// List implements [Lister].
func (o OS) List(dir string) iter.Seq2[Entry, error] {
	n := o.Batch
	if n <= 0 {
		n = 256
	}
	return func(yield func(Entry, error) bool) {
		f, err := os.Open(dir)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		defer f.Close()
		for {
			ents, err := f.ReadDir(n)
			for _, de := range ents {
				t := de.Type()
				e := Entry{
					Name:    de.Name(),
					Dir:     t.IsDir(),
					Regular: t.IsRegular(),
				}
				if !yield(e, nil) {
					return
				}
			}
			switch {
			case errors.Is(err, nil):
			case errors.Is(err, io.EOF):
				return
			default:
				yield(Entry{}, err)
				return
			}
		}
	}
}
