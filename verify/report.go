package verify

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/notargets/goamr/parallel"
)

const (
	GhostMarker    = "(g)"
	BoundaryMarker = "(b)"
)

// FormatRecord renders a record as
//
//	[rank R] cell C face F: index N[,N...], encoding E [(g)|(b)]
func FormatRecord(r Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[rank %d] cell %d face %d: index ", r.Rank, r.Cell, r.Face)
	for i, n := range r.Neighbors {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(n.Global))
	}
	fmt.Fprintf(&sb, ", encoding %d", r.Encoding)
	switch {
	case r.Boundary:
		sb.WriteString(" " + BoundaryMarker)
	case r.HasGhost():
		sb.WriteString(" " + GhostMarker)
	}
	return sb.String()
}

func WriteReport(w io.Writer, recs []Record) error {
	for _, r := range recs {
		if _, err := fmt.Fprintln(w, FormatRecord(r)); err != nil {
			return err
		}
	}
	return nil
}

// PrintOrdered writes every rank's records to w, rank 0 first. Collective.
func PrintOrdered(comm *parallel.Comm, w io.Writer, recs []Record) (err error) {
	comm.Ordered(func() {
		err = WriteReport(w, recs)
	})
	return
}
