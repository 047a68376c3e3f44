package reader

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/xerrors"

	"github.com/ragflow/ragflow/api/types"
)

const (
	minNarrativeChars = 150
	doiPages          = 2
	// a vertical gap wider than this many font sizes starts a new block
	blockGapFactor = 1.6
	// a horizontal gap wider than this share of the font size is a space
	wordGapFactor = 0.15
)

var (
	doiRe = regexp.MustCompile(`(?i)\b10\.\d{4,9}/[-._;()/:A-Z0-9]+`)

	// 1. / 4.3. / (2) / IV. / iv) followed by the title
	sectionNumRe = regexp.MustCompile(`^\s*\(?(?:\d+(?:\.\d+)*|[IVXLCDM]+(?:\.[IVXLCDM]+)*|[ivxlcdm]+(?:\.[ivxlcdm]+)*)(?:[.)]\s*|\s+)`)

	sectionNames = map[string]struct{}{
		"abstract":               {},
		"introduction":           {},
		"background":             {},
		"related work":           {},
		"materials and methods":  {},
		"theory":                 {},
		"methods":                {},
		"methodology":            {},
		"experiments":            {},
		"results":                {},
		"results and discussion": {},
		"discussion":             {},
		"conclusion":             {},
		"conclusions":            {},
		"acknowledgments":        {},
		"references":             {},
		"experimental section":   {},
	}
)

// Document is what the reader extracts from one PDF.
type Document struct {
	Metadata types.DocMetadata
	Text     string
}

// Extractor turns a local file into a Document.
type Extractor interface {
	Extract(path string) (Document, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(path string) (Document, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(path string) (Document, error) { return f(path) }

// PDFExtractor reads text and metadata with ledongthuc/pdf.
type PDFExtractor struct{}

// Extract implements Extractor.
func (PDFExtractor) Extract(path string) (Document, error) {
	return Extract(path)
}

// Line is one visual row of text on a page.
type Line struct {
	Page int
	Y    float64
	Size float64
	Text string
}

// Extract reads the Info dictionary and the page text of the PDF at path.
func Extract(path string) (doc Document, err error) {
	// the pdf package panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("parse %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return Document{}, xerrors.Errorf("open pdf: %w", err)
	}
	defer f.Close() //nolint:errcheck

	info := r.Trailer().Key("Info")
	doc.Metadata = types.DocMetadata{
		Title:    strings.TrimSpace(info.Key("Title").Text()),
		Authors:  splitList(info.Key("Author").Text(), ";"),
		Keywords: splitList(info.Key("Keywords").Text(), ",;"),
		Abstract: strings.TrimSpace(info.Key("Subject").Text()),
	}

	var lines []Line
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			log.Warnf("%s: page %d: %s", path, i, err.Error())
			continue
		}
		lines = append(lines, pageLines(i, rows)...)
	}

	doc.Metadata.DOI = GuessDOI(lines)
	doc.Text = Structure(lines)
	return doc, nil
}

// pageLines converts rows, which the pdf package orders bottom-up, into
// lines in reading order.
func pageLines(page int, rows pdf.Rows) []Line {
	out := make([]Line, 0, len(rows))
	for _, row := range rows {
		if len(row.Content) == 0 {
			continue
		}
		txt, size := rowText(row.Content)
		if strings.TrimSpace(txt) == "" {
			continue
		}
		out = append(out, Line{Page: page, Y: float64(row.Position), Size: size, Text: txt})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Y > out[j].Y })
	return out
}

func rowText(content pdf.TextHorizontal) (string, float64) {
	sort.SliceStable(content, func(i, j int) bool { return content[i].X < content[j].X })

	var (
		sb   strings.Builder
		size float64
		prev *pdf.Text
	)
	for i := range content {
		t := &content[i]
		if t.FontSize > size {
			size = t.FontSize
		}
		if prev != nil && t.X-(prev.X+prev.W) > wordGapFactor*t.FontSize &&
			!strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(t.S, " ") {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.S)
		prev = t
	}
	return sb.String(), size
}

// GuessDOI returns the first DOI-looking string on the first two pages.
func GuessDOI(lines []Line) string {
	var sb strings.Builder
	for _, l := range lines {
		if l.Page > doiPages {
			break
		}
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}
	return doiRe.FindString(sb.String())
}

// SectionName returns the canonical section name when text is a major
// section header, with any leading numbering removed.
func SectionName(text string) (string, bool) {
	clean := strings.ToLower(strings.TrimSpace(sectionNumRe.ReplaceAllString(text, "")))
	clean = strings.Join(strings.Fields(clean), " ")
	_, ok := sectionNames[clean]
	return clean, ok
}

// Structure joins lines into blocks, keeps narrative blocks (long ones and
// figure or table captions), marks section headers as ===name=== and
// collapses whitespace.
func Structure(lines []Line) string {
	var (
		parts []string
		block []string
		prev  *Line
	)

	flush := func() {
		if len(block) == 0 {
			return
		}
		text := strings.Join(block, " ")
		block = block[:0]
		if len([]rune(text)) > minNarrativeChars || strings.HasPrefix(text, "Figure ") || strings.HasPrefix(text, "Table ") {
			parts = append(parts, text)
		}
	}

	for i := range lines {
		l := &lines[i]
		if name, ok := SectionName(l.Text); ok {
			flush()
			parts = append(parts, "\n\n==="+name+"===\n\n")
			prev = l
			continue
		}
		if prev != nil && newBlock(prev, l) {
			flush()
		}
		block = append(block, strings.TrimSpace(l.Text))
		prev = l
	}
	flush()

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func newBlock(prev, cur *Line) bool {
	if prev.Page != cur.Page {
		return true
	}
	size := math.Max(prev.Size, cur.Size)
	if size <= 0 {
		return false
	}
	return prev.Y-cur.Y > blockGapFactor*size
}

// splitList splits s at any rune of seps. Author lists are split on ';'
// alone so "Last, First" stays one name.
func splitList(s, seps string) types.TextList {
	fields := strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(seps, r) })
	return types.TextList(fields).Clean()
}
