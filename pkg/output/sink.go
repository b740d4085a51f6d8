package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

// ResultSink persists the product links discovered for one site.
type ResultSink interface {
	Write(ctx context.Context, siteDomain string, links []string) error
}

// FileName returns "<domain stem>_products.<ext>" for siteDomain.
func FileName(siteDomain, ext string) string {
	return utils.DomainStem(siteDomain) + "_products." + ext
}

// TextSink writes one link per line to <dir>/<domain>_products.txt.
type TextSink struct {
	dir string
	log *logrus.Entry
}

// NewTextSink creates a TextSink writing into dir.
func NewTextSink(dir string, log *logrus.Entry) *TextSink {
	return &TextSink{dir: dir, log: log}
}

// Path returns the file the sink writes for siteDomain.
func (s *TextSink) Path(siteDomain string) string {
	return filepath.Join(s.dir, FileName(siteDomain, config.FormatText))
}

func (s *TextSink) Write(ctx context.Context, siteDomain string, links []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: creating output dir '%s': %w", utils.ErrFilesystem, s.dir, err)
	}

	var b strings.Builder
	for _, link := range links {
		b.WriteString(link)
		b.WriteByte('\n')
	}

	path := s.Path(siteDomain)
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, path, err)
	}
	s.log.Infof("Saved %d product links to %s", len(links), path)
	return nil
}

// MultiSink fans a result out to several sinks. Every sink is attempted;
// the errors are joined.
type MultiSink []ResultSink

func (m MultiSink) Write(ctx context.Context, siteDomain string, links []string) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Write(ctx, siteDomain, links); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewFileSinks builds the sinks for the configured output formats.
func NewFileSinks(formats []string, dir string, log *logrus.Entry) (MultiSink, error) {
	sinks := make(MultiSink, 0, len(formats))
	seen := make(map[string]bool, len(formats))
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		if seen[format] {
			continue
		}
		seen[format] = true
		switch format {
		case config.FormatXLSX:
			sinks = append(sinks, NewXLSXSink(dir, log))
		case config.FormatText:
			sinks = append(sinks, NewTextSink(dir, log))
		default:
			return nil, fmt.Errorf("%w: unknown output format '%s'", utils.ErrConfigValidation, format)
		}
	}
	return sinks, nil
}
