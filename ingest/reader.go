package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/poiesic/chatkeep/core"
)

// maxLineSize bounds a single import line.
const maxLineSize = 16 << 20

// ReadBatches decodes one core.MessageBatch per line of r. Blank lines are
// skipped. Decoding stops at the first malformed line.
func ReadBatches(r io.Reader) iter.Seq2[core.MessageBatch, error] {
	return func(yield func(core.MessageBatch, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)

		line := 0
		for scanner.Scan() {
			line++
			data := bytes.TrimSpace(scanner.Bytes())
			if len(data) == 0 {
				continue
			}
			var batch core.MessageBatch
			if err := json.Unmarshal(data, &batch); err != nil {
				yield(batch, fmt.Errorf("%w: line %d: %w", ErrMalformedBatch, line, err))
				return
			}
			if !yield(batch, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(core.MessageBatch{}, fmt.Errorf("%w: line %d: %w", ErrMalformedBatch, line+1, err))
		}
	}
}

// WriteBatches writes batches in the format ReadBatches reads.
func WriteBatches(w io.Writer, batches iter.Seq[core.MessageBatch]) error {
	enc := json.NewEncoder(w)
	for batch := range batches {
		if err := enc.Encode(batch); err != nil {
			return err
		}
	}
	return nil
}
