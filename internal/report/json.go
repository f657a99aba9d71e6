package report

import (
	"encoding/json"
	"io"
)

// WriteJSON renders the report as one indented JSON document.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Write renders the report in the named format, "text" or "json".
func Write(w io.Writer, r *Report, format string, opts TextOptions) error {
	if format == "json" {
		return WriteJSON(w, r)
	}
	return WriteText(w, r, opts)
}
