// Package paths centralizes the on-disk layout under the data directory.
//
//	{dataDir}/
//	  catalog.db           template catalog
//	  builds/{id}/         per-build scratch space, removed after each build
//	    upload/            uploaded archive
//	    source/            extracted build context
package paths

import "path/filepath"

// Paths resolves file locations relative to a data directory.
type Paths struct {
	dataDir string
}

// New creates a Paths rooted at dataDir.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// CatalogDB returns the path of the template catalog database.
func (p *Paths) CatalogDB() string {
	return filepath.Join(p.dataDir, "catalog.db")
}

// BuildsDir returns the parent directory of all build scratch dirs.
func (p *Paths) BuildsDir() string {
	return filepath.Join(p.dataDir, "builds")
}

// BuildDir returns the scratch directory owned by one build.
func (p *Paths) BuildDir(id string) string {
	return filepath.Join(p.BuildsDir(), id)
}

// BuildUploadDir returns where the uploaded archive of a build is stored.
func (p *Paths) BuildUploadDir(id string) string {
	return filepath.Join(p.BuildDir(id), "upload")
}

// BuildSourceDir returns the extracted build context of a build.
func (p *Paths) BuildSourceDir(id string) string {
	return filepath.Join(p.BuildDir(id), "source")
}
