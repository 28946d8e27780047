package lsmerge

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Options define merge session options.
type Options struct {
	// MaxKeySize is the hard limit for key sizes stored in a node index.
	// Default: 1KiB.
	MaxKeySize uint32 `yaml:"max_key_size"`

	// MaxStreamSize is the total number of records expected from the input
	// stream across all nodes of a single compaction job.
	// Default: unbounded.
	MaxStreamSize uint64 `yaml:"max_stream_size"`

	// MaxNodeSize is the target number of records per node.
	// Default: 131072.
	MaxNodeSize uint64 `yaml:"max_node_size"`

	// MaxPageSize is the minimum uncompressed size in bytes of each page.
	// Pages are always cut at key boundaries and may exceed this value.
	// Default: 64KiB.
	MaxPageSize uint32 `yaml:"max_page_size"`

	// SaveDelete retains deletion tombstones in the output.
	SaveDelete bool `yaml:"save_delete"`

	// Watermark is the lowest LSN still visible to an active reader.
	Watermark uint64 `yaml:"watermark"`

	// The compression codec to use for page payloads.
	// Default: SnappyCompression.
	Compression Compression `yaml:"compression"`

	// MemoryLimit caps the bytes held by index key copies. Zero disables the limit.
	MemoryLimit int `yaml:"memory_limit"`

	// Comparator orders keys.
	// Default: the bytewise comparator.
	Comparator Comparator `yaml:"-"`

	// Allocator provides buffers for index key copies.
	// Default: a pooled allocator bounded by MemoryLimit, one per merger.
	Allocator Allocator `yaml:"-"`

	// Logger receives debug output.
	// Default: a no-op logger.
	Logger *zap.Logger `yaml:"-"`
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.MaxKeySize < 1 {
		oo.MaxKeySize = 1 << 10
	}
	if oo.MaxStreamSize < 1 {
		oo.MaxStreamSize = math.MaxUint64
	}
	if oo.MaxNodeSize < 1 {
		oo.MaxNodeSize = 1 << 17
	}
	if oo.MaxPageSize < 1 {
		oo.MaxPageSize = 1 << 16
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}
	if oo.Comparator == nil {
		oo.Comparator = comparer.DefaultComparer
	}
	if oo.Logger == nil {
		oo.Logger = zap.NewNop()
	}

	return &oo
}

// ParseOptions parses YAML encoded options.
func ParseOptions(data []byte) (*Options, error) {
	o := new(Options)
	if err := yaml.Unmarshal(data, o); err != nil {
		return nil, errors.Wrap(err, "lsmerge: parse options")
	}
	return o, nil
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "lsmerge: load options")
	}
	return ParseOptions(data)
}
