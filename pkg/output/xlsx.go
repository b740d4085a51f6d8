package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/Sriram-PR/product-scout/pkg/config"
	"github.com/Sriram-PR/product-scout/pkg/utils"
)

const (
	xlsxSheet  = "Sheet1"
	xlsxHeader = "Product Link"
)

// XLSXSink writes a single-column spreadsheet to <dir>/<domain>_products.xlsx.
type XLSXSink struct {
	dir string
	log *logrus.Entry
}

// NewXLSXSink creates an XLSXSink writing into dir.
func NewXLSXSink(dir string, log *logrus.Entry) *XLSXSink {
	return &XLSXSink{dir: dir, log: log}
}

// Path returns the file the sink writes for siteDomain.
func (s *XLSXSink) Path(siteDomain string) string {
	return filepath.Join(s.dir, FileName(siteDomain, config.FormatXLSX))
}

func (s *XLSXSink) Write(ctx context.Context, siteDomain string, links []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: creating output dir '%s': %w", utils.ErrFilesystem, s.dir, err)
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.log.Warnf("Closing workbook: %v", err)
		}
	}()

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return fmt.Errorf("%w: opening sheet writer: %w", utils.ErrFilesystem, err)
	}
	if err := sw.SetColWidth(1, 1, 100); err != nil {
		return fmt.Errorf("%w: setting column width: %w", utils.ErrFilesystem, err)
	}
	if err := sw.SetRow("A1", []interface{}{xlsxHeader}); err != nil {
		return fmt.Errorf("%w: writing header: %w", utils.ErrFilesystem, err)
	}
	for i, link := range links {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("%w: row %d: %w", utils.ErrFilesystem, i+2, err)
		}
		if err := sw.SetRow(cell, []interface{}{link}); err != nil {
			return fmt.Errorf("%w: writing row %d: %w", utils.ErrFilesystem, i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("%w: flushing sheet: %w", utils.ErrFilesystem, err)
	}

	path := s.Path(siteDomain)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("%w: saving '%s': %w", utils.ErrFilesystem, path, err)
	}
	s.log.Infof("Saved %d product links to %s", len(links), path)
	return nil
}
