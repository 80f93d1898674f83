package images

// Image is a built or pulled image in the local runtime.
type Image struct {
	ID          string   `json:"docker_id"`
	Tags        string   `json:"tags"`
	RepoTags    []string `json:"repo_tags,omitempty"`
	AppName     string   `json:"app_name,omitempty"`
	VariantName string   `json:"variant_name,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
}

// BuildRequest describes one build. It is never persisted.
type BuildRequest struct {
	ID          string
	AppName     string
	VariantName string
	UserID      string
	// ArchivePath is the uploaded source archive (tar, tar.gz or zip).
	ArchivePath string
	// ImageTag is the target tag, normally from ImageTag.
	ImageTag string
}

// RootPath is the in-image path prefix passed to the build as ROOT_PATH.
func (r BuildRequest) RootPath() string {
	return "/" + r.UserID + "/" + r.AppName + "/" + r.VariantName
}

// PullRequest describes an image to pull from a registry.
type PullRequest struct {
	Repository string
	Tag        string
	Username   string
	Password   string
	// Registry is the registry host, e.g. "127.0.0.1:5000". When set and the
	// repository has no host of its own, it is prefixed to the reference.
	Registry string
}

// PullResult is what the runtime reports after a pull.
type PullResult struct {
	Ref      string   `json:"image_tag"`
	ImageID  string   `json:"image_id"`
	RepoTags []string `json:"repo_tags,omitempty"`
}
