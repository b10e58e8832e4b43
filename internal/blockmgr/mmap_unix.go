//go:build unix

package blockmgr

import "golang.org/x/sys/unix"

func mmapRegion(fd uintptr, offset int64, length int) ([]byte, error) {
	return unix.Mmap(int(fd), offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmapRegion(data []byte) error {
	return unix.Munmap(data)
}

func truncateFile(fd uintptr, size int64) error {
	return unix.Ftruncate(int(fd), size)
}
