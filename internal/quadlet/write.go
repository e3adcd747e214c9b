package quadlet

import (
	"bytes"
	"os"
	"path/filepath"

	apperrors "hostfleet/internal/errors"
)

// UnitFileMode is the permission of written unit files.
const UnitFileMode os.FileMode = 0o644

// WriteIfChanged writes text to path unless the file already holds exactly
// that content. The directory must already exist. Writes go through a
// temporary file renamed into place.
func WriteIfChanged(path, text string) (bool, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, apperrors.MissingPrerequisite(dir)
		}
		return false, apperrors.Wrap(apperrors.ErrFileRead, "Failed to stat unit directory", err)
	}
	if !info.IsDir() {
		return false, apperrors.MissingPrerequisite(dir)
	}

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if bytes.Equal(existing, []byte(text)) {
			return false, nil
		}
	case !os.IsNotExist(err):
		return false, apperrors.Wrap(apperrors.ErrFileRead, "Failed to read unit file", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return false, writeError(path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return false, writeError(path, err)
	}
	if err := tmp.Chmod(UnitFileMode); err != nil {
		tmp.Close()
		return false, writeError(path, err)
	}
	if err := tmp.Close(); err != nil {
		return false, writeError(path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return false, writeError(path, err)
	}
	return true, nil
}

func writeError(path string, err error) error {
	code := apperrors.ErrFileWrite
	if os.IsPermission(err) {
		code = apperrors.ErrPermissionDenied
	}
	return apperrors.WrapWithDetails(code, "Failed to write unit file", "Path: "+path, err)
}
