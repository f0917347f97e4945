package image

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// magic prefixes every encoded image.
var magic = []byte("CHNY")

// ErrNotImage is returned when data does not start with the image magic.
var ErrNotImage = errors.New("image: not a program image")

// cborEncMode uses canonical mode so equal programs encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Marshal serializes a program. A zero Version is filled in.
func Marshal(p *Program) ([]byte, error) {
	if p.Version == 0 {
		p.Version = Version
	}
	body, err := cborEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("image: marshal: %w", err)
	}
	return append(bytes.Clone(magic), body...), nil
}

// Unmarshal deserializes and validates a program.
func Unmarshal(data []byte) (*Program, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, ErrNotImage
	}
	var p Program
	if err := cbor.Unmarshal(data[len(magic):], &p); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Hash returns the SHA-256 of the program's canonical encoding.
func Hash(p *Program) ([32]byte, error) {
	data, err := Marshal(p)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// WriteFile encodes p into the named file.
func WriteFile(path string, p *Program) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	return nil
}

// ReadFile decodes the program in the named file.
func ReadFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	p, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, magic)
}
