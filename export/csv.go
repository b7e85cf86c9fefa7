package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dhcgn/chat-archive-extract/model"
)

// MessagesFile is the name of the CSV file inside the output directory.
const MessagesFile = "messages.csv"

const csvHeader = "message_id,sender,timestamp,content\n"

// CSVWriter writes messages as CSV rows. Every field is quoted, embedded
// quotes are doubled.
type CSVWriter struct {
	w *bufio.Writer
}

func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVWriter{w: bw}, nil
}

func (c *CSVWriter) Write(msg model.Message) error {
	fields := []string{msg.ID, msg.Sender, msg.Timestamp, msg.Content}
	for i, field := range fields {
		if i > 0 {
			if err := c.w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := c.w.WriteString(quote(field)); err != nil {
			return err
		}
	}
	return c.w.WriteByte('\n')
}

func (c *CSVWriter) Flush() error {
	return c.w.Flush()
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
