package transport

import (
    "bufio"
    "encoding/binary"
    "errors"
    "fmt"
    "io"
)

// MaxRecordSize bounds a single length-delimited record.
const MaxRecordSize = 1 << 24

var ErrRecordTooLarge = errors.New("transport: record too large")

// WriteRecord writes b with a u32 LE length prefix and flushes bw.
func WriteRecord(bw *bufio.Writer, b []byte) error {
    if len(b) > MaxRecordSize { return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(b)) }
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := bw.Write(lenbuf[:]); err != nil { return err }
    if _, err := bw.Write(b); err != nil { return err }
    return bw.Flush()
}

// ReadRecord reads one record written by WriteRecord.
func ReadRecord(br *bufio.Reader) ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(br, lenbuf[:]); err != nil { return nil, err }
    n := int(binary.LittleEndian.Uint32(lenbuf[:]))
    if n > MaxRecordSize { return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n) }
    buf := make([]byte, n)
    if _, err := io.ReadFull(br, buf); err != nil { return nil, err }
    return buf, nil
}
