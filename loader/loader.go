// Package loader loads user artifacts into isolated guest instances and
// resolves the classes they declare.  One loader serves one registration;
// loaders are not shared across registrations or goroutines.
package loader

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/colbridge/wudf"
	"github.com/colbridge/wudf/wvm"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
)

// DescribeExport is the guest function that returns the artifact manifest as
// a packed pointer/length pair (ptr<<32 | len) into guest memory.  The
// manifest is UTF-8 text, one directive per line:
//
//	class <Name>
//	method <name> <descriptor>
//
// Method directives attach to the most recent class directive.  Blank lines
// and lines starting with # are ignored.
const DescribeExport = "describe"

// ClassLoader loads classes from one artifact into a private namespace so
// that independently registered artifacts declaring the same class names
// never collide.  Init must be called exactly once before GetClass.
type ClassLoader struct {
	path   string
	id     ksuid.KSUID
	env    *wvm.Env
	logger *zap.Logger

	mod     wvm.GuestModule
	classes map[string][]Method
	inited  bool
}

// New returns a loader for the artifact at path.  Each loader carries its own
// registration ID, which also names the guest instance.
func New(env *wvm.Env, path string, logger *zap.Logger) *ClassLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassLoader{
		path:   path,
		id:     ksuid.New(),
		env:    env,
		logger: logger,
	}
}

// NewFromModule wraps an already-instantiated guest, reading its manifest
// immediately.  Embedders that manage instantiation themselves (and tests)
// use this instead of New followed by Init.
func NewFromModule(ctx context.Context, mod wvm.GuestModule, logger *zap.Logger) (*ClassLoader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	classes, err := readManifest(ctx, mod)
	if err != nil {
		return nil, fmt.Errorf("load module %q: %w", mod.Name(), err)
	}
	return &ClassLoader{
		path:    mod.Name(),
		id:      ksuid.New(),
		logger:  logger,
		mod:     mod,
		classes: classes,
		inited:  true,
	}, nil
}

// ID returns the registration ID assigned to this loader.
func (l *ClassLoader) ID() ksuid.KSUID { return l.id }

// Init reads, decompresses, compiles, and instantiates the artifact, then
// reads its manifest.  Calling Init more than once is a programming error.
func (l *ClassLoader) Init(ctx context.Context) error {
	if l.inited {
		panic("loader: Init called twice")
	}
	l.inited = true
	wasm, err := readArtifact(l.path)
	if err != nil {
		return fmt.Errorf("load artifact %q: %w", l.path, err)
	}
	mod, err := l.env.Instantiate(ctx, wasm, "udf-"+l.id.String())
	if err != nil {
		return fmt.Errorf("load artifact %q: %w", l.path, err)
	}
	classes, err := readManifest(ctx, mod)
	if err != nil {
		mod.Close(ctx)
		return fmt.Errorf("load artifact %q: %w", l.path, err)
	}
	l.mod = mod
	l.classes = classes
	l.logger.Debug("artifact loaded",
		zap.String("path", l.path),
		zap.String("id", l.id.String()),
		zap.Int("classes", len(classes)))
	return nil
}

// GetClass resolves a class declared by this loader's artifact.  The
// returned handle remains valid until the loader is closed.
func (l *ClassLoader) GetClass(name string) (Class, error) {
	if !l.inited || l.mod == nil {
		panic("loader: GetClass before Init")
	}
	methods, ok := l.classes[name]
	if !ok {
		return Class{}, fmt.Errorf("class %q in %q: %w", name, l.path, wudf.ErrClassNotFound)
	}
	return Class{mod: l.mod, name: name, methods: methods}, nil
}

// ClassNames returns the names of every class the artifact declares,
// sorted.
func (l *ClassLoader) ClassNames() []string {
	if !l.inited || l.mod == nil {
		panic("loader: ClassNames before Init")
	}
	return slices.Sorted(maps.Keys(l.classes))
}

// Close tears down the guest instance, invalidating every class handle this
// loader produced.  Idempotent.
func (l *ClassLoader) Close(ctx context.Context) error {
	if l.mod == nil {
		return nil
	}
	mod := l.mod
	l.mod = nil
	return mod.Close(ctx)
}

func readManifest(ctx context.Context, mod wvm.GuestModule) (map[string][]Method, error) {
	fn := mod.Fn(DescribeExport)
	if fn == nil {
		return nil, fmt.Errorf("artifact does not export %s", DescribeExport)
	}
	out, err := fn.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", DescribeExport, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values, want 1", DescribeExport, len(out))
	}
	ptr, n := uint32(out[0]>>32), uint32(out[0])
	mem := mod.Memory()
	if mem == nil {
		return nil, fmt.Errorf("artifact has no memory")
	}
	view, ok := mem.Read(ptr, n)
	if !ok {
		return nil, fmt.Errorf("manifest region [%d,%d) out of bounds", ptr, ptr+n)
	}
	return parseManifest(string(view))
}

func parseManifest(text string) (map[string][]Method, error) {
	classes := make(map[string][]Method)
	var current string
	for i, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "class":
			if len(fields) != 2 {
				return nil, fmt.Errorf("manifest line %d: malformed class directive", i+1)
			}
			current = fields[1]
			if _, ok := classes[current]; ok {
				return nil, fmt.Errorf("manifest line %d: duplicate class %q", i+1, current)
			}
			classes[current] = nil
		case "method":
			if len(fields) != 3 {
				return nil, fmt.Errorf("manifest line %d: malformed method directive", i+1)
			}
			if current == "" {
				return nil, fmt.Errorf("manifest line %d: method before any class", i+1)
			}
			classes[current] = append(classes[current], Method{Name: fields[1], Sig: fields[2]})
		default:
			return nil, fmt.Errorf("manifest line %d: unknown directive %q", i+1, fields[0])
		}
	}
	return classes, nil
}
