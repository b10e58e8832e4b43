//go:build windows

package blockmgr

import (
	"syscall"
	"unsafe"
)

func mmapRegion(fd uintptr, offset int64, length int) ([]byte, error) {
	h, err := syscall.CreateFileMapping(syscall.Handle(fd), nil, uint32(syscall.PAGE_READWRITE),
		uint32(offset>>32), uint32(offset&0xffffffff), nil)
	if err != nil {
		return nil, err
	}
	defer syscall.CloseHandle(h)

	addr, err := syscall.MapViewOfFile(h, syscall.FILE_MAP_WRITE,
		uint32(offset>>32), uint32(offset&0xffffffff), uintptr(length))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

func munmapRegion(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return syscall.UnmapViewOfFile(uintptr(unsafe.Pointer(&data[0])))
}

func truncateFile(fd uintptr, size int64) error {
	lowOffset := int32(size & 0xFFFFFFFF)
	highOffset := int32(size >> 32)
	if _, err := syscall.SetFilePointer(syscall.Handle(fd), lowOffset, &highOffset, syscall.FILE_BEGIN); err != nil {
		return err
	}
	return syscall.SetEndOfFile(syscall.Handle(fd))
}
