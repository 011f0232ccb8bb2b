//go:build !unix

package provider

// statfs is unavailable off unix; storage queries report ErrUnsupported.
func statfs(path string) (StorageInfo, error) {
	return StorageInfo{}, ErrUnsupported
}
