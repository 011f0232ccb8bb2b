//go:build unix

package provider

import "golang.org/x/sys/unix"

// statfs reports volume totals for the filesystem holding path.
func statfs(path string) (StorageInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return StorageInfo{}, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	return StorageInfo{
		Path:  path,
		Total: total,
		Free:  free,
		Used:  total - free,
	}, nil
}
