package extract

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// ArchiveExtractor walks zip/tar entries with the standard library and
// returns them as ChildRef values for the orchestrator to re-run through the
// Format Detector and ingest with parent_document_id set. The archive itself
// becomes an index Document listing its members.
type ArchiveExtractor struct{}

type archiveEntry struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size_bytes"`
}

func (ArchiveExtractor) Extract(_ context.Context, in Input) (RawDocument, error) {
	if looksLikeZip(in.Data) {
		return extractZipArchive(in.Data)
	}
	if looksLikeTar(in.Data) {
		return extractTarArchive(in.Data)
	}
	return RawDocument{}, extractionFailed("unrecognized_archive")
}

func looksLikeZip(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04"))
}

func looksLikeTar(data []byte) bool {
	return len(data) > 257+5 && string(data[257:257+5]) == "ustar"
}

func extractZipArchive(data []byte) (RawDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return RawDocument{}, extractionFailed("zip_open: " + err.Error())
	}

	var entries []archiveEntry
	var children []ChildRef
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		entries = append(entries, archiveEntry{Name: f.Name, Size: len(b)})
		children = append(children, ChildRef{Name: f.Name, Data: b})
	}
	return buildArchiveIndex(entries, children)
}

func extractTarArchive(data []byte) (RawDocument, error) {
	tr := tar.NewReader(bytes.NewReader(data))

	var entries []archiveEntry
	var children []ChildRef
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RawDocument{}, extractionFailed("tar_read: " + err.Error())
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			continue
		}
		entries = append(entries, archiveEntry{Name: hdr.Name, Size: len(b)})
		children = append(children, ChildRef{Name: hdr.Name, Data: b})
	}
	return buildArchiveIndex(entries, children)
}

func buildArchiveIndex(entries []archiveEntry, children []ChildRef) (RawDocument, error) {
	if len(entries) == 0 {
		return RawDocument{}, extractionFailed("empty_archive")
	}
	listing, err := yaml.Marshal(entries)
	if err != nil {
		return RawDocument{}, extractionFailed("yaml_encode: " + err.Error())
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}

	return RawDocument{
		Blocks: []Block{{
			Kind: BlockParagraph,
			Text: string(listing),
		}},
		Metadata: map[string]string{
			"member_count": itoa(len(entries)),
			"members":      strings.Join(names, ","),
		},
		Children: children,
	}, nil
}
