package transport

import (
	"bufio"
	"context"
	"io"
	"strings"
)

const maxLineBytes = 1024 * 1024

// pumpLines reads r line by line and hands each non-blank line to emit after
// decoding. It stops at EOF, on a read error, or when ctx is done.
func pumpLines(ctx context.Context, r io.Reader, decode func([]byte) string, emit func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		text := decode(scanner.Bytes())
		text = strings.TrimRight(text, "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		emit(text)
	}
	return scanner.Err()
}

func utf8Decode(b []byte) string {
	return string(b)
}
