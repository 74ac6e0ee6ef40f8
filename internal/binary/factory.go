package binary

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/raven-betanet/objkit/internal/native"
	"github.com/raven-betanet/objkit/internal/native/elfimg"
	"github.com/raven-betanet/objkit/internal/native/machoimg"
	"github.com/raven-betanet/objkit/internal/native/peimg"
	"github.com/raven-betanet/objkit/internal/utils"
)

// DefaultFileMode is the permission given to written binaries.
const DefaultFileMode os.FileMode = 0755

// Factory parses binaries and writes them back. Every binary keeps a pointer
// to the factory that created it.
type Factory struct {
	fs        *native.FS
	logger    *utils.Logger
	fileMode  os.FileMode
	pageSize  uint64
	noReplace bool
}

// Option configures a Factory.
type Option func(*Factory)

// WithFS reads and writes through fs instead of the host filesystem.
func WithFS(fs afero.Fs) Option {
	return func(f *Factory) { f.fs = native.NewFS(fs) }
}

// WithLogger sends diagnostics to logger instead of the shared diagnostics
// logger.
func WithLogger(logger *utils.Logger) Option {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithFileMode sets the permission of written files.
func WithFileMode(mode os.FileMode) Option {
	return func(f *Factory) { f.fileMode = mode }
}

// WithPageSize overrides the page size used by Mach-O segment extension.
// Zero derives it from the CPU type.
func WithPageSize(size uint64) Option {
	return func(f *Factory) { f.pageSize = size }
}

// WithOverwrite controls whether Write may replace an existing file.
func WithOverwrite(overwrite bool) Option {
	return func(f *Factory) { f.noReplace = !overwrite }
}

// NewFactory builds a factory over the host filesystem that logs to
// utils.Diagnostics.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		fs:       native.NewFS(nil),
		logger:   utils.Diagnostics(),
		fileMode: DefaultFileMode,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FromConfig builds a factory from loaded configuration.
func FromConfig(cfg *utils.Config, logger *utils.Logger, opts ...Option) (*Factory, error) {
	mode, err := cfg.Write.Mode()
	if err != nil {
		return nil, err
	}
	defaults := []Option{
		WithLogger(logger),
		WithFileMode(mode),
		WithPageSize(cfg.MachO.PageSize),
		WithOverwrite(cfg.Write.Overwrite),
	}
	return NewFactory(append(defaults, opts...)...), nil
}

// FS is the filesystem the factory reads and writes.
func (f *Factory) FS() afero.Fs {
	return f.fs.Afero()
}

func (f *Factory) log(component string) *logrus.Entry {
	return f.logger.WithComponent(component)
}

func (f *Factory) read(path string) ([]byte, native.Kind, error) {
	data, err := f.fs.ReadFile(path)
	if err != nil {
		return nil, native.KindUnknown, &ParseError{Path: path, Err: err}
	}
	return data, native.Sniff(data), nil
}

// Parse detects the format of the file at path and decodes it. A Mach-O
// file, thin or universal, yields its first image already taken from the
// container.
func (f *Factory) Parse(path string) (Binary, error) {
	data, kind, err := f.read(path)
	if err != nil {
		return nil, err
	}
	f.logger.WithBinary("factory", path).Debugf("detected %s", kind)

	switch kind {
	case native.KindELF:
		return f.decodeELF(path, data)
	case native.KindPE:
		return f.decodePE(path, data)
	case native.KindMachO, native.KindMachOUniversal:
		fat, err := f.decodeMachO(path, data)
		if err != nil {
			return nil, err
		}
		defer fat.Close()
		return fat.Take(0)
	}
	if kind.Recognized() {
		return nil, &UnsupportedFormatError{Path: path, Kind: kind.String()}
	}
	return nil, &ParseError{Path: path, Err: errors.New("unrecognized file format")}
}

// ParseELF decodes the ELF file at path.
func (f *Factory) ParseELF(path string) (*ELFBinary, error) {
	data, kind, err := f.read(path)
	if err != nil {
		return nil, err
	}
	if kind != native.KindELF {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("not an ELF file (%s)", kind)}
	}
	return f.decodeELF(path, data)
}

// ParsePE decodes the PE file at path.
func (f *Factory) ParsePE(path string) (*PEBinary, error) {
	data, kind, err := f.read(path)
	if err != nil {
		return nil, err
	}
	if kind != native.KindPE {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("not a PE file (%s)", kind)}
	}
	return f.decodePE(path, data)
}

// ParseMachO decodes the Mach-O file at path into a container. A thin file
// yields a container with one slot.
func (f *Factory) ParseMachO(path string) (*FatBinary, error) {
	data, kind, err := f.read(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case native.KindMachO, native.KindMachOUniversal:
		return f.decodeMachO(path, data)
	case native.KindMachOUniversal64:
		return nil, &UnsupportedFormatError{Path: path, Kind: kind.String()}
	}
	return nil, &ParseError{Path: path, Err: fmt.Errorf("not a Mach-O file (%s)", kind)}
}

func (f *Factory) decodeELF(path string, data []byte) (*ELFBinary, error) {
	img, err := elfimg.Decode(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	f.logger.WithBinary("elf", path).Debugf("decoded %d sections", len(img.Sections))
	return newELFBinary(img, f), nil
}

func (f *Factory) decodePE(path string, data []byte) (*PEBinary, error) {
	img, err := peimg.Decode(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	f.logger.WithBinary("pe", path).Debugf("decoded %d sections", len(img.Sections))
	return newPEBinary(img, f), nil
}

func (f *Factory) decodeMachO(path string, data []byte) (*FatBinary, error) {
	files, arches, err := machoimg.DecodeUniversal(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if len(files) == 0 {
		return nil, &ParseError{Path: path, Err: errors.New("universal binary has no slices")}
	}
	for _, img := range files {
		img.PageSize = f.pageSize
	}
	f.logger.WithBinary("macho", path).Debugf("decoded %d slices", len(files))
	return newFatBinary(path, files, arches, f), nil
}

// Write encodes b with the builder of its format and stores the result at
// path. The in-memory binary is not modified.
func (f *Factory) Write(b Binary, path string) error {
	format := b.Format()
	var (
		out []byte
		err error
	)
	switch format {
	case FormatELF:
		eb, ok := b.(*ELFBinary)
		if !ok {
			return castError(format, path, b)
		}
		out, err = eb.build()
	case FormatPE:
		pb, ok := b.(*PEBinary)
		if !ok {
			return castError(format, path, b)
		}
		out, err = pb.build()
	case FormatMachO:
		mb, ok := b.(*MachOBinary)
		if !ok {
			return castError(format, path, b)
		}
		out, err = mb.build()
	default:
		return &BuildError{Format: format, Path: path, Err: fmt.Errorf("no builder for format %s", format)}
	}
	if errors.Is(err, ErrReleased) {
		return err
	}
	if err != nil {
		return &BuildError{Format: format, Path: path, Err: err}
	}

	if f.noReplace {
		if exists, _ := afero.Exists(f.fs.Afero(), path); exists {
			return &BuildError{Format: format, Path: path, Err: os.ErrExist}
		}
	}
	if err := f.fs.WriteFile(path, out, f.fileMode); err != nil {
		return &BuildError{Format: format, Path: path, Err: err}
	}
	f.logger.WithBinary("factory", path).Debugf("wrote %d bytes", len(out))
	return nil
}

func castError(format Format, path string, b Binary) error {
	return &BuildError{Format: format, Path: path, Err: fmt.Errorf("failed to cast %T to its %s image", b, format)}
}
