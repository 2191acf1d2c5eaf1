package transfer

import (
	"context"
	"crypto/md5"  //nolint:gosec
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/italolelis/artifact_connector/internal/logctx"
)

// Algorithm is a checksum algorithm published next to repository resources.
type Algorithm struct {
	Name string
	Ext  string
	New  func() hash.Hash
}

// Algorithms lists the supported checksums in preference order.
var Algorithms = []Algorithm{
	{Name: "SHA-1", Ext: ".sha1", New: sha1.New},
	{Name: "MD5", Ext: ".md5", New: md5.New},
}

// Digests computes every algorithm's hex digest of r in a single pass,
// keyed by algorithm name.
func Digests(r io.Reader) (map[string]string, error) {
	hashes := make([]hash.Hash, len(Algorithms))
	writers := make([]io.Writer, len(Algorithms))

	for i, alg := range Algorithms {
		hashes[i] = alg.New()
		writers[i] = hashes[i]
	}

	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return nil, fmt.Errorf("failed to compute digests: %w", err)
	}

	out := make(map[string]string, len(Algorithms))
	for i, alg := range Algorithms {
		out[alg.Name] = hex.EncodeToString(hashes[i].Sum(nil))
	}

	return out, nil
}

// FileDigests computes the digests of the file at path.
func FileDigests(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Digests(f)
}

// verifiedChecksum is a fetched checksum file ready to be committed next to
// its destination.
type verifiedChecksum struct {
	staged string
	dest   string
}

// Checksums validates staged downloads against remote checksum resources.
type Checksums struct {
	fetcher *Fetcher
}

func NewChecksums(fetcher *Fetcher) *Checksums {
	return &Checksums{fetcher: fetcher}
}

// Validate checks the staged file against the first checksum the repository
// publishes for uri. A missing checksum moves on to the next algorithm; any
// other outcome of the first existing checksum is final.
func (c *Checksums) Validate(ctx context.Context, stagedPath, dest, uri string) (*verifiedChecksum, error) {
	logger := logctx.LoggerFromContext(ctx)

	actual, err := FileDigests(stagedPath)
	if err != nil {
		return nil, &Error{Kind: KindChecksum, Op: "checksum", URI: uri, Err: err}
	}

	for _, alg := range Algorithms {
		checksumURI := uri + alg.Ext

		staged, err := c.fetcher.Fetch(ctx, checksumURI, dest+alg.Ext, nil)
		if err != nil {
			switch KindOf(err) {
			case KindNotFound:
				logger.DebugContext(ctx, "checksum not published", "uri", checksumURI)

				continue
			case KindCancelled:
				return nil, err
			default:
				return nil, &Error{
					Kind:    KindChecksum,
					Op:      "checksum",
					URI:     checksumURI,
					Message: fmt.Sprintf("failed to fetch %s checksum", alg.Name),
					Err:     err,
				}
			}
		}

		expected, err := readChecksum(staged.Path)
		if err != nil {
			_ = os.Remove(staged.Path)

			return nil, &Error{Kind: KindChecksum, Op: "checksum", URI: checksumURI, Message: "unreadable checksum", Err: err}
		}

		if !strings.EqualFold(expected, actual[alg.Name]) {
			_ = os.Remove(staged.Path)

			return nil, &Error{
				Kind: KindChecksum,
				Op:   "checksum",
				URI:  checksumURI,
				Message: fmt.Sprintf("%s checksum mismatch: expected %s, actual %s",
					alg.Name, expected, actual[alg.Name]),
			}
		}

		return &verifiedChecksum{staged: staged.Path, dest: dest + alg.Ext}, nil
	}

	return nil, &Error{Kind: KindChecksum, Op: "checksum", URI: uri, Message: "no checksums available"}
}

func readChecksum(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return parseChecksum(string(data))
}

// parseChecksum accepts "<digest>", "<digest>  <file>" and the BSD style
// "SHA1 (<file>) = <digest>".
func parseChecksum(s string) (string, error) {
	s = strings.TrimSpace(s)

	if i := strings.LastIndex(s, " = "); i >= 0 && strings.Contains(s[:i], "(") {
		s = strings.TrimSpace(s[i+3:])
	}

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", errors.New("empty checksum file")
	}

	digest := strings.ToLower(fields[0])
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("checksum %q is not hex: %w", digest, err)
	}

	return digest, nil
}
