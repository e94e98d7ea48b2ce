// Package docx reads a Word document into an arena of formatting runs,
// locates fragment occurrences across run boundaries, and rewrites them in
// place while leaving every untouched byte of the archive exactly as it was.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// Run is a contiguous span of text sharing one formatting definition.
// Props holds the raw <w:rPr> element verbatim so formatting round-trips
// byte-for-byte. orig caches the run's original serialization; it is cleared
// when the run is created or rewritten by a replacement.
type Run struct {
	Props string
	Text  string
	orig  string
}

// pnode is one child of a paragraph: either a modelled text run or a raw
// XML chunk (pPr, bookmarks, proofing marks, runs with non-text content)
// that is emitted verbatim.
type pnode struct {
	raw string
	run *Run
}

// Container identifies where a paragraph lives: the document body or a
// specific table cell.
type Container struct {
	InTable bool
	Table   int
	Row     int
	Cell    int
}

// Paragraph is one w:p element. Its open and close tags are kept raw so
// paragraph-level attributes survive rewriting.
type Paragraph struct {
	openTag   string
	closeTag  string
	nodes     []pnode
	Container Container
}

// Text returns the concatenated text of all modelled runs.
func (p *Paragraph) Text() string {
	var sb strings.Builder
	for _, n := range p.nodes {
		if n.run != nil {
			sb.WriteString(n.run.Text)
		}
	}
	return sb.String()
}

// Runs returns the modelled runs in document order. The returned pointers
// alias the paragraph; mutating them mutates the document.
func (p *Paragraph) Runs() []*Run {
	var runs []*Run
	for _, n := range p.nodes {
		if n.run != nil {
			runs = append(runs, n.run)
		}
	}
	return runs
}

// bodyItem is one top-level piece of body content: a paragraph or a raw
// chunk (table scaffolding, section properties, anything unmodelled).
type bodyItem struct {
	raw  string
	para *Paragraph
}

// Document is one open .docx archive. The word/document.xml entry is parsed
// into paragraphs; every other entry is carried through untouched.
type Document struct {
	entries   []zipEntry
	docIndex  int // index of word/document.xml within entries
	prefix    string
	suffix    string
	body      []bodyItem
	paras     []*Paragraph // all paragraphs in document order, table cells included
}

type zipEntry struct {
	name string
	data []byte
}

// Open parses a .docx archive from raw bytes.
func Open(data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a valid docx archive: %w", err)
	}

	doc := &Document{docIndex: -1}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
		}
		if f.Name == "word/document.xml" {
			doc.docIndex = len(doc.entries)
		}
		doc.entries = append(doc.entries, zipEntry{name: f.Name, data: content})
	}

	if doc.docIndex == -1 {
		return nil, fmt.Errorf("archive has no word/document.xml")
	}
	if err := doc.parseBody(doc.entries[doc.docIndex].data); err != nil {
		return nil, err
	}
	return doc, nil
}

// OpenFile parses the .docx archive at path.
func OpenFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return Open(data)
}

// Paragraphs returns every paragraph in document order, including paragraphs
// inside table cells. The slice index is the paragraph's document position.
func (d *Document) Paragraphs() []*Paragraph {
	return d.paras
}

// parseBody splits word/document.xml into a verbatim prefix (everything
// through the <w:body> open tag), an ordered stream of paragraphs and raw
// chunks, and a verbatim suffix (the body close tag onward).
func (d *Document) parseBody(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))

	// Locate the body open tag.
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("malformed document.xml: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Space == wordNS && se.Name.Local == "body" {
			d.prefix = string(data[:dec.InputOffset()])
			break
		}
	}

	rawStart := dec.InputOffset()
	cont := Container{Table: -1, Row: -1, Cell: -1}
	tableDepth := 0

	for {
		tokenStart := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("malformed document.xml body: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				if tokenStart > rawStart {
					d.body = append(d.body, bodyItem{raw: string(data[rawStart:tokenStart])})
				}
				para, err := parseParagraph(dec, data, tokenStart)
				if err != nil {
					return err
				}
				para.Container = cont
				para.Container.InTable = tableDepth > 0
				d.body = append(d.body, bodyItem{para: para})
				d.paras = append(d.paras, para)
				rawStart = dec.InputOffset()
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					cont.Table++
					cont.Row, cont.Cell = -1, -1
				}
			case "tr":
				if tableDepth == 1 {
					cont.Row++
					cont.Cell = -1
				}
			case "tc":
				if tableDepth == 1 {
					cont.Cell++
				}
			}

		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "tbl":
				tableDepth--
			case "body":
				if tokenStart > rawStart {
					d.body = append(d.body, bodyItem{raw: string(data[rawStart:tokenStart])})
				}
				d.suffix = string(data[tokenStart:])
				return nil
			}
		}
	}
}

// parseParagraph consumes one w:p element. pStart is the byte offset of the
// paragraph's open tag.
func parseParagraph(dec *xml.Decoder, data []byte, pStart int64) (*Paragraph, error) {
	para := &Paragraph{openTag: string(data[pStart:dec.InputOffset()])}

	// Self-closing <w:p/> carries no children; the synthetic end element
	// consumes no input, so the close tag stays empty.
	if strings.HasSuffix(strings.TrimSpace(para.openTag), "/>") {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("malformed paragraph: %w", err)
		}
		return para, nil
	}

	rawStart := dec.InputOffset()
	for {
		tokenStart := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("malformed paragraph: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wordNS && t.Name.Local == "r" {
				if tokenStart > rawStart {
					para.nodes = append(para.nodes, pnode{raw: string(data[rawStart:tokenStart])})
				}
				node, err := parseRun(dec, data, tokenStart)
				if err != nil {
					return nil, err
				}
				para.nodes = append(para.nodes, node)
				rawStart = dec.InputOffset()
				continue
			}
			// Anything else (pPr, bookmarks, hyperlinks, proofing
			// marks) is carried through verbatim.
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("malformed paragraph content: %w", err)
			}

		case xml.EndElement:
			if t.Name.Space == wordNS && t.Name.Local == "p" {
				if tokenStart > rawStart {
					para.nodes = append(para.nodes, pnode{raw: string(data[rawStart:tokenStart])})
				}
				para.closeTag = string(data[tokenStart:dec.InputOffset()])
				return para, nil
			}
		}
	}
}

// parseRun consumes one w:r element. Runs containing only run properties and
// text become modelled Runs; anything richer (tabs, breaks, drawings) is kept
// as a raw chunk so it cannot be corrupted by rewriting.
func parseRun(dec *xml.Decoder, data []byte, rStart int64) (pnode, error) {
	var props strings.Builder
	var text strings.Builder
	modelled := true

	openTag := string(data[rStart:dec.InputOffset()])
	if strings.HasSuffix(strings.TrimSpace(openTag), "/>") {
		if _, err := dec.Token(); err != nil {
			return pnode{}, fmt.Errorf("malformed run: %w", err)
		}
		return pnode{raw: openTag}, nil
	}

	for {
		tokenStart := dec.InputOffset()
		tok, err := dec.Token()
		if err != nil {
			return pnode{}, fmt.Errorf("malformed run: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Space == wordNS && t.Name.Local == "rPr":
				if err := dec.Skip(); err != nil {
					return pnode{}, fmt.Errorf("malformed run properties: %w", err)
				}
				props.WriteString(string(data[tokenStart:dec.InputOffset()]))
			case t.Name.Space == wordNS && t.Name.Local == "t":
				for {
					inner, err := dec.Token()
					if err != nil {
						return pnode{}, fmt.Errorf("malformed run text: %w", err)
					}
					if cd, ok := inner.(xml.CharData); ok {
						text.Write(cd)
						continue
					}
					if ee, ok := inner.(xml.EndElement); ok && ee.Name.Local == "t" {
						break
					}
				}
			default:
				modelled = false
				if err := dec.Skip(); err != nil {
					return pnode{}, fmt.Errorf("malformed run content: %w", err)
				}
			}

		case xml.EndElement:
			if t.Name.Space == wordNS && t.Name.Local == "r" {
				if !modelled {
					return pnode{raw: string(data[rStart:dec.InputOffset()])}, nil
				}
				return pnode{run: &Run{
					Props: props.String(),
					Text:  text.String(),
					orig:  string(data[rStart:dec.InputOffset()]),
				}}, nil
			}
		}
	}
}

// serializeBody renders word/document.xml from the arena. Untouched raw
// chunks are emitted byte-for-byte; runs are re-emitted from their props and
// current text.
func (d *Document) serializeBody() []byte {
	var sb strings.Builder
	sb.WriteString(d.prefix)
	for _, item := range d.body {
		if item.para != nil {
			serializeParagraph(&sb, item.para)
			continue
		}
		sb.WriteString(item.raw)
	}
	sb.WriteString(d.suffix)
	return []byte(sb.String())
}

func serializeParagraph(sb *strings.Builder, p *Paragraph) {
	sb.WriteString(p.openTag)
	for _, n := range p.nodes {
		if n.run != nil {
			serializeRun(sb, n.run)
			continue
		}
		sb.WriteString(n.raw)
	}
	sb.WriteString(p.closeTag)
}

func serializeRun(sb *strings.Builder, r *Run) {
	// Untouched runs round-trip byte-for-byte.
	if r.orig != "" {
		sb.WriteString(r.orig)
		return
	}
	sb.WriteString("<w:r>")
	sb.WriteString(r.Props)
	sb.WriteString(`<w:t xml:space="preserve">`)
	var escaped bytes.Buffer
	xml.EscapeText(&escaped, []byte(r.Text))
	sb.Write(escaped.Bytes())
	sb.WriteString("</w:t></w:r>")
}

// Save renders the mutated archive. Every entry other than
// word/document.xml is written back byte-for-byte.
func (d *Document) Save() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, entry := range d.entries {
		w, err := zw.Create(entry.name)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive entry %s: %w", entry.name, err)
		}
		content := entry.data
		if i == d.docIndex {
			content = d.serializeBody()
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %s: %w", entry.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// SaveFile writes the mutated archive to path.
func (d *Document) SaveFile(path string) error {
	data, err := d.Save()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}
