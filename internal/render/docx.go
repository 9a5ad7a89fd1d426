package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Sizes are in half-points, spacing and page geometry in twentieths of a point.
const (
	docxTitleSize = 40
	docxMetaSize  = 20
	docxHeadSize  = 28
	docxBodySize  = 24
	docxPageW     = 11906 // A4
	docxPageH     = 16838
	docxMargin    = 1000 // 50pt
)

// DOCXRenderer writes a minimal WordprocessingML package with the same
// layout as the PDF output.
type DOCXRenderer struct {
	opts options
}

func NewDOCXRenderer(opts ...Option) *DOCXRenderer {
	return &DOCXRenderer{opts: newOptions(opts)}
}

func (r *DOCXRenderer) Extension() string { return ".docx" }
func (r *DOCXRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
}

func (r *DOCXRenderer) Render(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, &Error{Format: "docx", Err: err}
	}
	layout := BuildLayout(in, r.opts.classify)
	modified := in.GeneratedAt
	if modified.IsZero() {
		modified = time.Now()
	}

	parts := []struct {
		name string
		body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRootRels},
		{"docProps/core.xml", docxCore(layout.Title, modified)},
		{"word/document.xml", docxDocument(layout)},
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range parts {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: p.name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return Output{}, &Error{Format: "docx", Err: fmt.Errorf("create %s: %w", p.name, err)}
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return Output{}, &Error{Format: "docx", Err: fmt.Errorf("write %s: %w", p.name, err)}
		}
	}
	if err := zw.Close(); err != nil {
		return Output{}, &Error{Format: "docx", Err: err}
	}
	return finish(in, r.Extension(), buf.Bytes()), nil
}

const docxContentTypes = xml.Header + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/docProps/core.xml" ContentType="application/vnd.openxmlformats-package.core-properties+xml"/>
</Types>`

const docxRootRels = xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/package/2006/relationships/metadata/core-properties" Target="docProps/core.xml"/>
</Relationships>`

func docxCore(title string, at time.Time) string {
	return xml.Header + `<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" ` +
		`xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dcterms="http://purl.org/dc/terms/" ` +
		`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
		`<dc:title>` + escape(title) + `</dc:title>` +
		`<dc:creator>webdoc</dc:creator>` +
		`<dcterms:created xsi:type="dcterms:W3CDTF">` + at.UTC().Format(time.RFC3339) + `</dcterms:created>` +
		`</cp:coreProperties>`
}

type docxPara struct {
	text    string
	align   string
	size    int
	bold    bool
	spacing int // space after, twips
}

func docxDocument(l Layout) string {
	paras := []docxPara{
		{text: l.Title, align: "center", size: docxTitleSize, bold: true, spacing: 240},
		{text: l.Source, align: "center", size: docxMetaSize},
		{text: l.Generated, align: "center", size: docxMetaSize, spacing: 480},
	}
	for _, b := range l.Blocks {
		switch b.Kind {
		case BlockSpacer:
			paras = append(paras, docxPara{size: docxBodySize})
		case BlockHeading:
			paras = append(paras, docxPara{text: b.Text, align: "left", size: docxHeadSize, bold: true, spacing: 120})
		default:
			paras = append(paras, docxPara{text: b.Text, align: "both", size: docxBodySize, spacing: 72})
		}
	}

	var sb strings.Builder
	sb.WriteString(xml.Header)
	sb.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paras {
		writeDocxPara(&sb, p)
	}
	fmt.Fprintf(&sb, `<w:sectPr><w:pgSz w:w="%d" w:h="%d"/><w:pgMar w:top="%d" w:right="%d" w:bottom="%d" w:left="%d" w:header="0" w:footer="0" w:gutter="0"/></w:sectPr>`,
		docxPageW, docxPageH, docxMargin, docxMargin, docxMargin, docxMargin)
	sb.WriteString(`</w:body></w:document>`)
	return sb.String()
}

func writeDocxPara(sb *strings.Builder, p docxPara) {
	sb.WriteString(`<w:p><w:pPr>`)
	if p.align != "" {
		fmt.Fprintf(sb, `<w:jc w:val="%s"/>`, p.align)
	}
	fmt.Fprintf(sb, `<w:spacing w:after="%d"/></w:pPr>`, p.spacing)
	if p.text != "" {
		sb.WriteString(`<w:r><w:rPr><w:rFonts w:ascii="Helvetica" w:hAnsi="Helvetica"/>`)
		if p.bold {
			sb.WriteString(`<w:b/>`)
		}
		fmt.Fprintf(sb, `<w:sz w:val="%d"/></w:rPr><w:t xml:space="preserve">%s</w:t></w:r>`, p.size, escape(p.text))
	}
	sb.WriteString(`</w:p>`)
}

func escape(s string) string {
	var b strings.Builder
	// EscapeText only fails on writer errors; strings.Builder never returns one.
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
