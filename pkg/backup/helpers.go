package backup

import (
	"os"
	"path/filepath"

	"github.com/chbackup/chbackup/pkg/errs"
)

// listShadowFiles walks a cloud-storage disk's shadow directory, returning
// file paths relative to dir. A missing directory means the disk had no
// frozen data (spec §4.4 step 5).
func listShadowFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errs.Storage("walk shadow directory", dir, err)
	}
	return out, nil
}
