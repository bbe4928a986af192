// Package util - Loads still images and frame sequences from disk.
package util

import (
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ImageFile represents an image file of a directory.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number taken from the trailing digits of the file name,
	// -1 when the name has none.
	Frame int
}

// IsImageFile reports whether the extension of path is a supported image format.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tif", ".tiff":
		return true
	default:
		return false
	}
}

// FrameNumber extracts the frame number of names like "frame-0042.jpg".
//
// Arguments:
//   - name: The file name.
//
// Returns:
//   - int: The trailing number of the name without its extension, -1 when there is none.
func FrameNumber(name string) int {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	i := len(stem)
	for i > 0 && stem[i-1] >= '0' && stem[i-1] <= '9' {
		i--
	}
	if i == len(stem) {
		return -1
	}
	n, err := strconv.Atoi(stem[i:])
	if err != nil {
		return -1
	}
	return n
}

// LoadDirectoryImageFiles lists the image files of a directory.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: The image files ordered by frame number, then by path.
//   - error: Error if the directory cannot be read.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading image directory %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() || !IsImageFile(entry.Name()) {
			continue
		}
		files = append(files, ImageFile{
			Path:  filepath.Join(dir, entry.Name()),
			Frame: FrameNumber(entry.Name()),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Frame != files[j].Frame {
			return files[i].Frame < files[j].Frame
		}
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// LoadImage opens an image file, applying its EXIF orientation.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "loading image %s", path)
	}
	return img, nil
}

// DecodeImage decodes an encoded image, applying its EXIF orientation.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	return img, nil
}
