// Package image loads raw hub firmware images.
//
// An image is the exact flash content; there is no container format. VMM9
// images start with the ASCII signature "CARRERA", which the updater checks
// before opening a VMM9 session.
//
//	img, err := image.Load("firmware.bin")
//	if err != nil {
//	    return err
//	}
//	if !img.IsVMM9() {
//	    return errors.New("not a VMM9 image")
//	}
//
// Checksum returns the value the hub is expected to report after the image
// is written, for each of the supported verification methods.
package image
