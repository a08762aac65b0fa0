package jobengine

import (
	"io"
	"os"
)

// spoolToTempFile copies r to a private temp file, since the disassembler
// adapter drives an external tool that needs a filesystem path rather than
// a stream. The returned cleanup func removes the temp file.
func spoolToTempFile(r io.Reader) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "bin2nlp-upload-*")
	if err != nil {
		return "", func() {}, err
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", func() {}, err
	}

	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}
