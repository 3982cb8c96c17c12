// Package render executes conversion templates against parsed input.
package render

import (
	"bytes"
	"context"
	"errors"
	"text/template"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/ehr/fhirconverter/internal/platform/fault"
	"github.com/ehr/fhirconverter/internal/platform/templatestore"
)

// MaxIncludeDepth bounds nested include calls.
const MaxIncludeDepth = 32

// Renderer turns input data into FHIR JSON text using a named template.
type Renderer interface {
	Render(ctx context.Context, data interface{}, templateName string) (string, error)
}

// TemplateRenderer renders text/template templates loaded from a store.
// Parsed templates are cached by name.
type TemplateRenderer struct {
	store  templatestore.Store
	cache  *ristretto.Cache
	logger zerolog.Logger
}

// NewTemplateRenderer creates a renderer over store. cacheSize is the
// number of parsed templates kept; zero or less disables caching.
func NewTemplateRenderer(store templatestore.Store, cacheSize int, logger zerolog.Logger) (*TemplateRenderer, error) {
	r := &TemplateRenderer{store: store, logger: logger}
	if cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: int64(cacheSize) * 10,
			MaxCost:     int64(cacheSize),
			BufferItems: 64,
			// Each template costs 1, so MaxCost counts entries.
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// Render executes templateName with data as dot.
func (r *TemplateRenderer) Render(ctx context.Context, data interface{}, templateName string) (string, error) {
	return r.render(ctx, data, templateName, 0)
}

func (r *TemplateRenderer) render(ctx context.Context, data interface{}, name string, depth int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if depth > MaxIncludeDepth {
		return "", fault.Newf(fault.TemplateRenderError, "include depth exceeds %d at %q", MaxIncludeDepth, name)
	}

	tmpl, err := r.load(ctx, name)
	if err != nil {
		return "", err
	}

	// Clone so the per-call include binding never leaks into the cached copy.
	run, err := tmpl.Clone()
	if err != nil {
		return "", fault.Wrapf(fault.TemplateRenderError, err, "clone template %q", name)
	}
	run.Funcs(template.FuncMap{
		"include": func(child string, childData interface{}) (string, error) {
			return r.render(ctx, childData, child, depth+1)
		},
	})

	var buf bytes.Buffer
	if err := run.Execute(&buf, data); err != nil {
		if inner := classified(err); inner != nil {
			return "", inner
		}
		return "", fault.Wrapf(fault.TemplateRenderError, err, "execute template %q", name)
	}
	return buf.String(), nil
}

// classified returns the typed error an include or helper raised while
// executing, so exec errors do not mask it.
func classified(err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (r *TemplateRenderer) load(ctx context.Context, name string) (*template.Template, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(name); ok {
			return v.(*template.Template), nil
		}
	}

	content, err := r.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, templatestore.ErrTemplateNotFound) || errors.Is(err, templatestore.ErrInvalidName) {
			return nil, fault.Wrapf(fault.TemplateNotFound, err, "template %q", name)
		}
		return nil, fault.Wrapf(fault.TemplateRenderError, err, "load template %q", name)
	}

	tmpl, err := template.New(name).Funcs(baseFuncs()).Parse(content)
	if err != nil {
		return nil, fault.Wrapf(fault.TemplateRenderError, err, "parse template %q", name)
	}

	if r.cache != nil {
		r.cache.Set(name, tmpl, 1)
	}
	r.logger.Debug().Str("template", name).Msg("template compiled")
	return tmpl, nil
}

// Invalidate drops a cached template so the next render reloads it.
func (r *TemplateRenderer) Invalidate(name string) {
	if r.cache != nil {
		r.cache.Del(name)
	}
}

// Precompile parses every template the lister knows about and returns all
// parse failures together.
func (r *TemplateRenderer) Precompile(ctx context.Context, lister templatestore.Lister) (int, error) {
	names, err := lister.List(ctx)
	if err != nil {
		return 0, err
	}
	var errs error
	compiled := 0
	for _, name := range names {
		if _, err := r.load(ctx, name); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		compiled++
	}
	if r.cache != nil {
		r.cache.Wait()
	}
	return compiled, errs
}
