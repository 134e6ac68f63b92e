package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// FingerprintOptions are the compile options that change the output of a
// compile over the same files.
type FingerprintOptions struct {
	HeadCommitID        string
	AllowDuplicateProps bool
	CompileContext      map[string]any
}

// Fingerprint hashes the files, sorted by path, together with opts. Equal
// inputs give equal fingerprints regardless of file order.
func Fingerprint(files []domain.SchemaFile, opts FingerprintOptions) (string, error) {
	sorted := append([]domain.SchemaFile(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	// encoding/json sorts map keys, which makes the context canonical
	compileContext, err := json.Marshal(opts.CompileContext)
	if err != nil {
		return "", fmt.Errorf("fingerprint compile context: %w", err)
	}

	h := sha256.New()
	for _, f := range sorted {
		writeField(h, []byte(f.Path))
		writeField(h, f.Content)
	}
	writeField(h, []byte(opts.HeadCommitID))
	if opts.AllowDuplicateProps {
		writeField(h, []byte{1})
	} else {
		writeField(h, []byte{0})
	}
	writeField(h, compileContext)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeField writes a length-prefixed field so adjacent fields cannot run
// into each other.
func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
