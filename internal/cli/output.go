package cli

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"github.com/vladislavdragonenkov/jewelry/internal/syncclient"
)

func printItems(w io.Writer, items []syncclient.Item, asJSON bool) error {
	if asJSON {
		if items == nil {
			items = []syncclient.Item{}
		}
		return writeJSON(w, items)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printf(tw, "SEQ\tID\tNAME\tPARENT\n")
	for _, item := range items {
		parent := item.ParentID
		if parent == "" {
			parent = "-"
		}
		printf(tw, "%d\t%s\t%s\t%s\n", item.Sequence, item.ID, item.Name, parent)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
