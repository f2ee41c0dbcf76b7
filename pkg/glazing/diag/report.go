package diag

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteTable prints the report as an aligned table.
func (r Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORM\tURL\tSTATUS\tELAPSED\tERROR")
	for _, res := range r.Results {
		errText := res.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			res.Form, res.URL, res.Status, res.Elapsed.Round(time.Millisecond), errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if c := r.Connection; c != nil {
		_, err := fmt.Fprintf(w, "\nconnection: state=%s endpoint=%s attempts=%d exhausted=%t messages=%d\n",
			c.State, c.Endpoint, c.Attempts, c.Exhausted, c.Messages)
		return err
	}
	return nil
}
