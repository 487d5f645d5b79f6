package image

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/moffa90/go-synmst/protocol"
)

// ErrEmpty is returned when an image contains no data.
var ErrEmpty = errors.New("empty image")

// Image is a raw flash image, written to the hub verbatim from offset zero.
type Image struct {
	// Data is the flash content
	Data []byte

	// BoardID is the board the image was built for; zero when unknown
	BoardID uint32
}

// Chunk is a slice of an image at its flash offset.
type Chunk struct {
	Offset uint32
	Data   []byte
}

// Load reads an image from the given file path.
//
// Example:
//
//	img, err := image.Load("carrera.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d bytes, crc16 0x%04X\n", img.Size(), img.Checksum(protocol.VerifyCRC16))
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Read(f)
}

// Read reads an image from any io.Reader.
func Read(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return &Image{Data: data}, nil
}

func (i *Image) Size() int {
	return len(i.Data)
}

// Preamble returns the leading bytes that carry the VMM9 signature. It is
// shorter than the signature when the image is.
func (i *Image) Preamble() []byte {
	n := len(protocol.Signature)
	if len(i.Data) < n {
		n = len(i.Data)
	}
	return i.Data[:n]
}

// IsVMM9 reports whether the image starts with the VMM9 signature.
func (i *Image) IsVMM9() bool {
	return protocol.ValidateSignature(i.Preamble()) == nil
}

// Checksum returns the value the hub reports for this image with method m.
func (i *Image) Checksum(m protocol.VerifyMethod) uint32 {
	return m.Compute(i.Data)
}

// Chunks splits the image into pieces of at most size bytes.
func (i *Image) Chunks(size int) []Chunk {
	return Split(i.Data, 0, size)
}

// Split cuts data into chunks of at most size bytes starting at base.
func Split(data []byte, base uint32, size int) []Chunk {
	if size <= 0 {
		panic("chunk size must be positive")
	}

	chunks := make([]Chunk, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := off + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, Chunk{Offset: base + uint32(off), Data: data[off:end]})
	}
	return chunks
}
