package ai

import (
	"errors"
	"io"
)

// provider pairs independently constructed services.
type provider struct {
	embedder  Embedder
	generator Generator
}

// NewProvider combines an embedder and a generator into an AIProvider.
// Close closes either service that implements io.Closer.
func NewProvider(embedder Embedder, generator Generator) AIProvider {
	return &provider{embedder: embedder, generator: generator}
}

func (p *provider) Embedder() Embedder {
	return p.embedder
}

func (p *provider) Generator() Generator {
	return p.generator
}

func (p *provider) Close() error {
	var errs []error
	if c, ok := p.embedder.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := p.generator.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
