package attachment

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"regexp"
	"time"
)

// DefaultPrefix is the leading component of every generated file name.
const DefaultPrefix = "image"

var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,16}$`)

// Namer generates store file names of the form
// <prefix>_<unix millis>_<random>_<index><ext>.
// Uniqueness is probabilistic; Store.Commit refuses to overwrite.
type Namer struct {
	Prefix string
	now    func() time.Time
	random func() int
}

// NewNamer creates a Namer using the wall clock and math/rand.
func NewNamer(prefix string) *Namer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Namer{
		Prefix: prefix,
		now:    time.Now,
		random: func() int { return rand.IntN(1e8) },
	}
}

// Name returns a new name for the attachment at position index
// (zero-based) whose original file name was original.
func (n *Namer) Name(index int, original string) string {
	return fmt.Sprintf("%s_%d_%d_%d%s", n.Prefix, n.now().UnixMilli(), n.random(), index+1, Ext(original))
}

// Ext returns the extension of a client-supplied file name, or "" when
// it has none or it contains anything but ASCII letters and digits.
func Ext(original string) string {
	ext := filepath.Ext(filepath.Base(original))
	if !safeExt.MatchString(ext) {
		return ""
	}
	return ext
}
