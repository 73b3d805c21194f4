package report

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// sessionReport is the XML document produced for interval-mode dumps.
type sessionReport struct {
	XMLName   xml.Name   `xml:"report"`
	Session   string     `xml:"session,attr"`
	Timestamp string     `xml:"timestamp,attr"`
	Files     []xmlFile  `xml:"file"`
	Profile   *xmlBinary `xml:"profile,omitempty"`
}

type xmlFile struct {
	Name   string     `xml:"name,attr"`
	Ranges []xmlRange `xml:"range"`
}

type xmlRange struct {
	Start int `xml:"start,attr"`
	End   int `xml:"end,attr"`
}

// xmlBinary embeds a raw binary profile (Go runtime dumps) as base64 so
// the report stays a single self-contained file.
type xmlBinary struct {
	Meta     string `xml:"meta"`
	Counters string `xml:"counters"`
}

// WriteSessionXML renders one dump as a session coverage report.
func WriteSessionXML(w io.Writer, dump domain.Dump) error {
	doc := sessionReport{
		Session:   dump.SessionID,
		Timestamp: dump.Timestamp.UTC().Format(time.RFC3339),
	}
	for _, f := range dump.Files {
		xf := xmlFile{Name: f.Path}
		for _, r := range f.Ranges {
			xf.Ranges = append(xf.Ranges, xmlRange{Start: r.Start, End: r.End})
		}
		doc.Files = append(doc.Files, xf)
	}
	if len(dump.Counters) > 0 {
		doc.Profile = &xmlBinary{
			Meta:     base64.StdEncoding.EncodeToString(dump.Meta),
			Counters: base64.StdEncoding.EncodeToString(dump.Counters),
		}
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode session report: %w", err)
	}
	return enc.Close()
}

// WriteSessionXMLFile writes the dump to dir as a timestamped report
// file and returns its path.
func WriteSessionXMLFile(dir string, dump domain.Dump) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	name := fmt.Sprintf("coverage-%s.xml", dump.Timestamp.UTC().Format("20060102-150405.000"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if err := WriteSessionXML(file, dump); err != nil {
		_ = file.Close()
		return "", err
	}
	return path, file.Close()
}
