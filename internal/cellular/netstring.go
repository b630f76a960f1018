package cellular

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// maxFrameSize bounds a single control-channel frame. Batch call reports
// are small; anything larger is a framing error.
const maxFrameSize = 1 << 20

// frameWriter writes netstring-framed payloads: <length>:<payload>,
type frameWriter struct {
	w io.Writer
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{w: w}
}

func (fw *frameWriter) WriteFrame(payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(payload))
	}
	if _, err := fmt.Fprintf(fw.w, "%d:", len(payload)); err != nil {
		return err
	}
	if _, err := fw.w.Write(payload); err != nil {
		return err
	}
	_, err := fw.w.Write([]byte{','})
	return err
}

// frameReader decodes netstring frames from a stream.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// ReadFrame returns the next payload without its framing.
func (fr *frameReader) ReadFrame() ([]byte, error) {
	header, err := fr.r.ReadString(':')
	if err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(header[:len(header)-1])
	if err != nil || length < 0 {
		return nil, fmt.Errorf("bad netstring length %q", header)
	}
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	trailer, err := fr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if trailer != ',' {
		return nil, fmt.Errorf("bad netstring trailer %q", trailer)
	}
	return payload, nil
}
