// Package output renders identification outcomes as JSON lines, CSV or
// aligned text.
package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/sequence"
	"github.com/FocuswithJustin/sigid/internal/batch"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatText Format = "text"
)

// ParseFormat parses an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatText:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", errors.NewValidation("output", fmt.Sprintf("unknown format %q", s))
}

// Record is one row of output: a single identified format, or a resource
// with no match or an error.
type Record struct {
	CorrelationID     string          `json:"correlation_id"`
	Name              string          `json:"name"`
	Size              int64           `json:"size"`
	PUID              string          `json:"puid,omitempty"`
	FormatName        string          `json:"format,omitempty"`
	Version           string          `json:"version,omitempty"`
	MIMEType          string          `json:"mime_type,omitempty"`
	Method            string          `json:"method,omitempty"`
	SignatureID       string          `json:"signature,omitempty"`
	Spans             []sequence.Span `json:"spans,omitempty"`
	ExtensionMismatch bool            `json:"extension_mismatch,omitempty"`
	Digest            string          `json:"digest,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// Records flattens an outcome into one record per result.
func Records(o batch.Outcome) []Record {
	base := Record{CorrelationID: o.CorrelationID, Name: o.Request.Path}
	if o.Err != nil {
		base.Error = o.Err.Error()
		return []Record{base}
	}
	rc := o.Collection
	if rc.Name != "" {
		base.Name = rc.Name
	}
	base.Size = rc.Size
	base.ExtensionMismatch = rc.ExtensionMismatch
	base.Digest = rc.Digest
	if len(rc.Results) == 0 {
		return []Record{base}
	}

	records := make([]Record, 0, len(rc.Results))
	for _, r := range rc.Results {
		rec := base
		rec.PUID = r.Format.PUID
		rec.FormatName = r.Format.Name
		rec.Version = r.Format.Version
		rec.MIMEType = r.Format.MIMEType
		rec.Method = string(r.Method)
		if r.Signature != nil {
			rec.SignatureID = r.Signature.ID
		}
		rec.Spans = r.Spans
		records = append(records, rec)
	}
	return records
}

// Writer writes outcomes. Close flushes buffered output; it does not close
// the underlying io.Writer.
type Writer interface {
	Write(o batch.Outcome) error
	Close() error
}

// New returns a Writer for format.
func New(format Format, w io.Writer) (Writer, error) {
	switch format {
	case FormatJSON:
		return &jsonWriter{enc: json.NewEncoder(w)}, nil
	case FormatCSV:
		return &csvWriter{w: csv.NewWriter(w)}, nil
	case FormatText:
		return &textWriter{w: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}, nil
	}
	return nil, errors.NewUnsupported("output format", string(format))
}

type jsonWriter struct {
	enc *json.Encoder
}

func (w *jsonWriter) Write(o batch.Outcome) error {
	for _, rec := range Records(o) {
		if err := w.enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func (w *jsonWriter) Close() error { return nil }

var csvHeader = []string{
	"correlation_id", "name", "size", "puid", "format", "version", "mime_type",
	"method", "signature", "spans", "extension_mismatch", "digest", "error",
}

type csvWriter struct {
	w      *csv.Writer
	header bool
}

func (w *csvWriter) Write(o batch.Outcome) error {
	if !w.header {
		if err := w.w.Write(csvHeader); err != nil {
			return err
		}
		w.header = true
	}
	for _, rec := range Records(o) {
		row := []string{
			rec.CorrelationID,
			rec.Name,
			strconv.FormatInt(rec.Size, 10),
			rec.PUID,
			rec.FormatName,
			rec.Version,
			rec.MIMEType,
			rec.Method,
			rec.SignatureID,
			FormatSpans(rec.Spans),
			strconv.FormatBool(rec.ExtensionMismatch),
			rec.Digest,
			rec.Error,
		}
		if err := w.w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *csvWriter) Close() error {
	w.w.Flush()
	return w.w.Error()
}

type textWriter struct {
	w *tabwriter.Writer
}

func (w *textWriter) Write(o batch.Outcome) error {
	for _, rec := range Records(o) {
		var line string
		switch {
		case rec.Error != "":
			line = fmt.Sprintf("%s\terror\t%s\n", rec.Name, rec.Error)
		case rec.PUID == "":
			line = fmt.Sprintf("%s\tunknown\t\n", rec.Name)
		default:
			detail := rec.FormatName
			if rec.Version != "" {
				detail += " " + rec.Version
			}
			if s := FormatSpans(rec.Spans); s != "" {
				detail += " @ " + s
			}
			if rec.ExtensionMismatch {
				detail += " (extension mismatch)"
			}
			line = fmt.Sprintf("%s\t%s\t%s [%s]\n", rec.Name, rec.PUID, detail, rec.Method)
		}
		if _, err := io.WriteString(w.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (w *textWriter) Close() error { return w.w.Flush() }

// FormatSpans renders spans as space separated start-end pairs.
func FormatSpans(spans []sequence.Span) string {
	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = fmt.Sprintf("%d-%d", s.Start, s.End)
	}
	return strings.Join(parts, " ")
}
