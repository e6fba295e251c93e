package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/utils"
)

// DefaultCardsPattern locates runtime cards shipped next to a stack
const DefaultCardsPattern = "cards/**/*.js*"

var ErrInvalidSource = errors.New("invalid script source")

// Stack is a manifest plus its decoded entry script
type Stack struct {
	Manifest Manifest
	Source   string
}

// Load reads the stack rooted at dir
func Load(dir string) (*Stack, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads the first manifest found at the root of fsys and its entry
func LoadFS(fsys fs.FS) (*Stack, error) {
	name, data, err := findManifest(fsys)
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(name, data)
	if err != nil {
		return nil, err
	}

	entry := path.Clean(manifest.Entry)
	if !fs.ValidPath(entry) {
		return nil, fmt.Errorf("%w: entry %q escapes the stack", ErrInvalidManifest, manifest.Entry)
	}
	source, err := ReadSource(fsys, entry, utils.MaxBundleSize)
	if err != nil {
		return nil, err
	}
	return &Stack{Manifest: *manifest, Source: source}, nil
}

func findManifest(fsys fs.FS) (string, []byte, error) {
	for _, name := range ManifestNames {
		data, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("read %s: %w", name, err)
		}
		return name, data, nil
	}
	return "", nil, fmt.Errorf("%w (looked for %s)", ErrManifestNotFound, strings.Join(ManifestNames, ", "))
}

// ReadSource reads a script file, transparently decoding gzip or zstd
// content. Both the stored and the decoded size are capped at limit.
func ReadSource(fsys fs.FS, name string, limit int) (string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	raw, err := readLimited(f, limit)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidSource, name, err)
	}
	decoded, err := decompress(raw, limit)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidSource, name, err)
	}
	if !isText(decoded) {
		return "", fmt.Errorf("%w: %s is %s, not text", ErrInvalidSource, name, mimetype.Detect(decoded).String())
	}
	if !utf8.Valid(decoded) {
		return "", fmt.Errorf("%w: %s is not UTF-8 (looks like %s)", ErrInvalidSource, name, guessCharset(decoded))
	}
	return string(decoded), nil
}

func guessCharset(data []byte) string {
	best, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || best.Charset == "" {
		return "an unknown charset"
	}
	return best.Charset
}

func decompress(data []byte, limit int) ([]byte, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/gzip"):
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return readLimited(r, limit)
	case mt.Is("application/zstd"):
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer r.Close()
		return readLimited(r, limit)
	default:
		return data, nil
	}
}

func readLimited(r io.Reader, limit int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, fmt.Errorf("exceeds %d bytes", limit)
	}
	return data, nil
}

func isText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}

// CardFile is one runtime card script found next to a stack
type CardFile struct {
	ID   string
	Path string
	Code string
}

// ReadCards reads every script in fsys matching pattern. Card ids come from
// the file name without its extensions. Unreadable files are reported in the
// joined error and do not stop the remaining files.
func ReadCards(fsys fs.FS, pattern string) ([]CardFile, error) {
	if pattern == "" {
		pattern = DefaultCardsPattern
	}
	matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(matches)

	var cards []CardFile
	var errs []error
	for _, name := range matches {
		code, err := ReadSource(fsys, name, utils.MaxCardCodeSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		cards = append(cards, CardFile{ID: CardID(name), Path: name, Code: code})
	}
	return cards, errors.Join(errs...)
}

// SeedCards registers the scripts ReadCards finds as runtime cards and
// returns the registered ids. Failures are collected, not fatal.
func SeedCards(fsys fs.FS, pattern string, reg *registry.Manager, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cards, readErr := ReadCards(fsys, pattern)
	if readErr != nil {
		logger.Warn("Skipping unreadable runtime cards", zap.Error(readErr))
	}

	var registered []string
	errs := []error{readErr}
	for _, card := range cards {
		if err := reg.Register(card.ID, card.Code); err != nil {
			logger.Warn("Skipping runtime card", zap.String("file", card.Path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", card.Path, err))
			continue
		}
		registered = append(registered, card.ID)
	}
	return registered, errors.Join(errs...)
}

// CardID derives a card id from a script path: cards/low_stock.js.gz -> low_stock
func CardID(name string) string {
	base := path.Base(name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}
