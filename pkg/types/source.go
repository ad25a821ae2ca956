package types

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/javapathfinder/jpf-core-sub000/pkg/classfile"
)

// DirSource loads user classes from a class path directory.
type DirSource struct {
	Dir   string
	cache map[string]*classfile.ClassFile
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir, cache: make(map[string]*classfile.ClassFile)}
}

func (s *DirSource) Load(name string) (*classfile.ClassFile, error) {
	if cf, ok := s.cache[name]; ok {
		return cf, nil
	}
	path := filepath.Join(s.Dir, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("user: class %s not found: %w", name, err)
	}
	s.cache[name] = cf
	return cf, nil
}

// LoadDir parses every .class file below dir concurrently and returns them
// keyed by class name.
func LoadDir(ctx context.Context, dir string) (MapSource, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".class") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	files := make([]*classfile.ClassFile, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cf, err := classfile.ParseFile(p)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			files[i] = cf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	src := make(MapSource, len(files))
	for _, cf := range files {
		name, err := cf.ClassName()
		if err != nil {
			return nil, err
		}
		src[name] = cf
	}
	return src, nil
}
