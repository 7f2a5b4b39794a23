package qmod

import (
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const backupSuffix = ".modkit-backup"

// placedFile is a destination written during an install. backup holds the
// previous content of dest, if there was any.
type placedFile struct {
	dest   string
	backup string
}

// placeFile writes data to dest, moving an existing file aside first. On
// failure the previous file is back in place.
func (p *Provider) placeFile(dest string, data []byte) (placedFile, error) {
	pf := placedFile{dest: dest}
	if err := p.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return pf, err
	}

	exists, err := afero.Exists(p.fs, dest)
	if err != nil {
		return pf, err
	}
	if exists {
		pf.backup = dest + backupSuffix
		if err := p.fs.Rename(dest, pf.backup); err != nil {
			return placedFile{dest: dest}, err
		}
	}

	if err := afero.WriteFile(p.fs, dest, data, 0o644); err != nil {
		p.restore(pf)
		return pf, err
	}
	return pf, nil
}

// restore undoes placeFile: dest is removed and its previous content, if
// any, is moved back.
func (p *Provider) restore(pf placedFile) {
	if err := p.removeFile(pf.dest); err != nil {
		p.log.Warn().Err(err).Str("path", pf.dest).Msg("removing partially installed file")
	}
	if pf.backup == "" {
		return
	}
	if err := p.fs.Rename(pf.backup, pf.dest); err != nil {
		p.log.Warn().Err(err).Str("path", pf.dest).Str("backup", pf.backup).Msg("restoring previous file")
	}
}

// commit drops the backup kept by placeFile.
func (p *Provider) commit(pf placedFile) {
	if pf.backup == "" {
		return
	}
	if err := p.removeFile(pf.backup); err != nil {
		p.log.Warn().Err(err).Str("path", pf.backup).Msg("removing backup")
	}
}

func (p *Provider) removeFile(path string) error {
	err := p.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
