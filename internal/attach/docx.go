package attach

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strings"
)

// docxToHTML converts the main document part of a .docx archive to plain
// display markup: one <p> per paragraph, <br> for explicit line breaks.
// Formatting runs are flattened to their text; the result is sanitized by
// the caller.
func docxToHTML(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("not a docx archive: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx archive has no word/document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open document part: %w", err)
	}
	defer func() { _ = rc.Close() }()

	return documentXMLToHTML(rc)
}

func documentXMLToHTML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		out       strings.Builder
		paragraph strings.Builder
		inText    bool
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("malformed document part: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br":
				paragraph.WriteString("<br>")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteString("<p>")
				out.WriteString(paragraph.String())
				out.WriteString("</p>")
				paragraph.Reset()
			}
		case xml.CharData:
			if inText {
				paragraph.WriteString(html.EscapeString(string(t)))
			}
		}
	}

	return out.String(), nil
}
