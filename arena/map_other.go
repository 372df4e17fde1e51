//go:build !unix

package arena

// Map falls back to Go memory on platforms without mmap
func Map(desc Descriptor) (*Region, error) {
	return Allocate(desc)
}
