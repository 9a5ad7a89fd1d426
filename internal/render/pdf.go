package render

import (
	"bytes"
	"context"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfMargin     = 50.0
	pdfFont       = "Helvetica"
	pdfTitleSize  = 20.0
	pdfMetaSize   = 10.0
	pdfHeadSize   = 14.0
	pdfBodySize   = 12.0
	pdfLineFactor = 1.25
)

// PDFRenderer writes A4 documents with the core Helvetica font.
type PDFRenderer struct {
	opts options
}

func NewPDFRenderer(opts ...Option) *PDFRenderer {
	return &PDFRenderer{opts: newOptions(opts)}
}

func (r *PDFRenderer) Extension() string   { return ".pdf" }
func (r *PDFRenderer) ContentType() string { return "application/pdf" }

func (r *PDFRenderer) Render(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, &Error{Format: "pdf", Err: err}
	}
	layout := BuildLayout(in, r.opts.classify)

	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(layout.Title, true)
	pdf.SetCreator("webdoc", true)
	// Core fonts are cp1252; translate UTF-8 input.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	line := func(size float64) float64 { return size * pdfLineFactor }

	pdf.SetFont(pdfFont, "B", pdfTitleSize)
	pdf.MultiCell(0, line(pdfTitleSize), tr(layout.Title), "", "C", false)
	pdf.Ln(line(pdfBodySize))

	pdf.SetFont(pdfFont, "", pdfMetaSize)
	pdf.MultiCell(0, line(pdfMetaSize), tr(layout.Source), "", "C", false)
	pdf.MultiCell(0, line(pdfMetaSize), tr(layout.Generated), "", "C", false)
	pdf.Ln(2 * line(pdfBodySize))

	for _, b := range layout.Blocks {
		switch b.Kind {
		case BlockSpacer:
			pdf.Ln(line(pdfBodySize) / 2)
		case BlockHeading:
			pdf.SetFont(pdfFont, "B", pdfHeadSize)
			pdf.MultiCell(0, line(pdfHeadSize), tr(b.Text), "", "L", false)
			pdf.Ln(line(pdfBodySize) / 2)
		default:
			pdf.SetFont(pdfFont, "", pdfBodySize)
			pdf.MultiCell(0, line(pdfBodySize), tr(b.Text), "", "J", false)
			pdf.Ln(line(pdfBodySize) * 0.3)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Output{}, &Error{Format: "pdf", Err: err}
	}
	return finish(in, r.Extension(), buf.Bytes()), nil
}
