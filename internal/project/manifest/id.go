package manifest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/dshills/manifold/internal/project/model"
	"github.com/zeebo/blake3"
)

// resourceDomainKey separates resource identifiers from any other use of
// the same hash. The bytes are the ASCII domain name, zero padded.
var resourceDomainKey = [32]byte{
	'm', 'a', 'n', 'i', 'f', 'o', 'l', 'd', '.', 'r', 'e', 's', 'o', 'u', 'r', 'c',
	'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// idLength is the number of digest bytes kept in an identifier.
const idLength = 16

// ResourceID derives the identifier of the document at docIndex in
// relPath. The content is hashed in its canonical CBOR form, so edits
// to whitespace, comments or key order keep the identifier.
func ResourceID(relPath string, docIndex int, content map[string]any) (string, error) {
	encoded, err := model.MarshalCanonical(content)
	if err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}

	hasher, err := blake3.NewKeyed(resourceDomainKey[:])
	if err != nil {
		return "", fmt.Errorf("init hasher: %w", err)
	}

	var header [16]byte
	binary.BigEndian.PutUint64(header[:8], uint64(len(relPath)))
	binary.BigEndian.PutUint64(header[8:], uint64(docIndex))
	_, _ = hasher.Write(header[:])
	_, _ = hasher.Write([]byte(relPath))
	_, _ = hasher.Write(encoded)

	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:idLength]), nil
}
