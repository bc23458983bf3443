package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ExtractZIP pulls one data file out of an archive into destDir and
// returns its path. With member set, the entry whose base name matches
// is taken; with member empty, the archive must hold exactly one file.
// Reference archives are usually one data file plus directory entries.
//
// The output name is always the entry's base name, so hostile paths in
// the archive cannot escape destDir.
func ExtractZIP(zipPath, member, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	entry, err := pickEntry(r.File, member)
	if err != nil {
		return "", err
	}

	rc, err := entry.Open()
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: open archive entry %s", entry.Name)
	}
	defer rc.Close() //nolint:errcheck

	destPath := filepath.Join(destDir, path.Base(entry.Name))
	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create extracted file")
	}

	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return "", eris.Wrapf(err, "fetcher: extract %s", entry.Name)
	}

	return destPath, nil
}

func pickEntry(entries []*zip.File, member string) (*zip.File, error) {
	var files []*zip.File
	for _, f := range entries {
		if f.FileInfo().IsDir() {
			continue
		}
		if member != "" && path.Base(f.Name) == member {
			return f, nil
		}
		files = append(files, f)
	}

	if member != "" {
		return nil, eris.Errorf("fetcher: %q not found in archive", member)
	}
	if len(files) != 1 {
		return nil, eris.Errorf("fetcher: archive holds %d files, expected one", len(files))
	}
	return files[0], nil
}
