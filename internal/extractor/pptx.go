package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docbot/internal/domain"
)

const drawingMLNamespace = "http://schemas.openxmlformats.org/drawingml/2006/main"

// oleMagic prefixes legacy binary Office files, including password-protected
// OOXML packages.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

var slidePath = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// Inflation limits for slide packages. Slide XML far above these sizes is a
// decompression bomb, not a presentation.
const (
	defaultMaxSlideBytes = 16 << 20
	defaultMaxTextBytes  = 8 << 20
)

var errTooLarge = errors.New("inflated content exceeds limit")

// PPTX extracts the text runs of every slide in a PowerPoint package.
type PPTX struct {
	logger        *slog.Logger
	maxSlideBytes int64 // per slide, decompressed
	maxTextBytes  int   // whole document
}

func NewPPTX(logger *slog.Logger) *PPTX {
	if logger == nil {
		logger = slog.Default()
	}
	return &PPTX{
		logger:        logger,
		maxSlideBytes: defaultMaxSlideBytes,
		maxTextBytes:  defaultMaxTextBytes,
	}
}

type slideFile struct {
	num  int
	file *zip.File
}

func (p *PPTX) Extract(ctx context.Context, data []byte) (*domain.Document, error) {
	if len(data) == 0 {
		return nil, domain.Malformed("empty document", nil)
	}
	if bytes.HasPrefix(data, oleMagic) {
		return nil, domain.Unsupported("legacy or encrypted PowerPoint file", nil)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.Malformed("not a PowerPoint package", err)
	}

	var slides []slideFile
	for _, f := range zr.File {
		m := slidePath.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slideFile{num: n, file: f})
	}
	if len(slides) == 0 {
		return nil, domain.Malformed("package contains no slides", nil)
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	for _, s := range slides {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.file.UncompressedSize64 > uint64(p.maxSlideBytes) {
			return nil, domain.Unsupported("document too large", fmt.Errorf("slide %d declares %d bytes", s.num, s.file.UncompressedSize64))
		}
		text, err := readSlideText(s.file, p.maxSlideBytes)
		if errors.Is(err, errTooLarge) {
			return nil, domain.Unsupported("document too large", fmt.Errorf("slide %d: %w", s.num, err))
		}
		if err != nil {
			return nil, domain.Malformed(fmt.Sprintf("cannot read slide %d", s.num), err)
		}
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(text)
		if sb.Len() > p.maxTextBytes {
			return nil, domain.Unsupported("document too large", errTooLarge)
		}
	}

	p.logger.Debug("pptx extracted", "slides", len(slides), "chars", sb.Len())

	return &domain.Document{
		Text:   sb.String(),
		Pages:  len(slides),
		Format: FormatPPTX,
	}, nil
}

// readSlideText concatenates <a:t> runs, one line per <a:p> paragraph. It
// reads at most limit decompressed bytes.
func readSlideText(f *zip.File, limit int64) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	lr := &limitedReader{r: rc, left: limit}
	dec := xml.NewDecoder(lr)
	var (
		lines  []string
		line   strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if lr.exceeded {
			return "", errTooLarge
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == drawingMLNamespace && t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Space != drawingMLNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(line.String()); s != "" {
					lines = append(lines, s)
				}
				line.Reset()
			}
		case xml.CharData:
			if inText {
				line.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(line.String()); s != "" {
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n"), nil
}

// limitedReader fails once more than left bytes are read, unlike
// io.LimitReader which reports a clean EOF.
type limitedReader struct {
	r        io.Reader
	left     int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.left <= 0 {
		// One extra byte distinguishes "exactly at the limit" from "over it".
		var one [1]byte
		n, err := l.r.Read(one[:])
		if n > 0 {
			l.exceeded = true
			return 0, errTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.left {
		p = p[:l.left]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	return n, err
}
