package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/helixml/vecsync/application/service"
	"github.com/helixml/vecsync/domain/vectorizer"
)

func printStatus(w io.Writer, statuses ...service.VectorizerStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tPENDING\tRECORDS")
	for _, st := range statuses {
		pending := fmt.Sprint(st.Pending)
		if st.Capped {
			pending += "+"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", st.Vectorizer.ID(), st.Vectorizer.Name(), state(st.Vectorizer), pending, st.Records)
	}
	return tw.Flush()
}

func state(v vectorizer.Vectorizer) string {
	switch {
	case v.Failed():
		return "failed"
	case v.Disabled():
		return "disabled"
	default:
		return "active"
	}
}

func printErrors(w io.Writer, records []vectorizer.ErrorRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, rec := range records {
			if err := enc.Encode(map[string]any{
				"recorded_at": rec.RecordedAt(),
				"message":     rec.Message(),
				"details":     rec.Details(),
			}); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tMESSAGE")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\n", rec.RecordedAt().Format(time.RFC3339), rec.Message())
	}
	return tw.Flush()
}
