package tmplx

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

var (
	ErrRenderTemplate = errors.New("tmplx: render error")
	ErrParseTemplate  = errors.New("tmplx: parse error")
	ErrEmptyOutput    = errors.New("tmplx: empty output")
)

type Template struct {
	tmpl *template.Template
}

type Options struct {
	sample any
	funcs  template.FuncMap
}

type Option func(*Options) error

func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		"default":        defaultFunc,
		"json":           jsonFunc,
		"jsonGet":        jsonGet,
		"hasPrefix":      hasPrefix,
		"encodeUrlQuery": encodeUrlQuery,
		"str":            cast.ToString,
	}
}

func WithTemplateFunc(name string, fn any) Option {
	return func(o *Options) error {
		if fn == nil {
			return fmt.Errorf("%w: nil func %q", ErrParseTemplate, name)
		}
		o.funcs[name] = fn
		return nil
	}
}

// WithSample renders the template once against sample at parse time and
// rejects templates that fail or produce blank output.
func WithSample(sample any) Option {
	return func(o *Options) error {
		o.sample = sample
		return nil
	}
}

func MustParse(name, text string, opts ...Option) *Template {
	t, err := Parse(name, text, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

func Parse(name, text string, args ...Option) (*Template, error) {
	opts := &Options{
		funcs: defaultFuncs(),
	}
	for _, arg := range args {
		if err := arg(opts); err != nil {
			return nil, err
		}
	}

	tmpl, err := template.New(name).
		Option("missingkey=zero").
		Funcs(opts.funcs).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseTemplate, err)
	}

	t := &Template{tmpl: tmpl}
	if opts.sample != nil {
		out, err := t.RenderString(opts.sample)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(out) == "" {
			return nil, fmt.Errorf("%w: %s", ErrEmptyOutput, name)
		}
	}
	return t, nil
}

func (t *Template) Render(data any) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if err := t.tmpl.Execute(buf, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderTemplate, err)
	}
	return buf, nil
}

func (t *Template) RenderString(data any) (string, error) {
	buf, err := t.Render(data)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func hasPrefix(a, b any) bool {
	return strings.HasPrefix(cast.ToString(a), cast.ToString(b))
}

func defaultFunc(def any, value any) any {
	if value != nil && value != "" {
		return value
	}
	return def
}

func jsonFunc(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func jsonGet(path string, raw string) string {
	return gjson.Get(raw, path).String()
}

func encodeUrlQuery(queries ...any) string {
	query := url.Values{}
	for i := 0; i < len(queries); i += 2 {
		value := ""
		if i+1 < len(queries) {
			value = cast.ToString(queries[i+1])
		}
		query.Add(cast.ToString(queries[i]), value)
	}
	return query.Encode()
}
