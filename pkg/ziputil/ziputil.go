// Package ziputil bundles generated assets into a single downloadable
// archive.
package ziputil

import (
	"archive/zip"
	"bytes"
)

// Asset is one file to include in an archive.
type Asset struct {
	Filename string
	Data     []byte
}

// Archive writes the assets into an in-memory zip.
func Archive(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.Filename)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
