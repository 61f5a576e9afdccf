package main

import (
    "encoding/hex"
    "errors"
    "flag"
    "fmt"
    "log"
    "os"
    "path/filepath"
    "strings"

    "ttxfer/pkg/protocol"
    "ttxfer/pkg/protocol/codec"
)

// Writes one record per frame kind and format, plus stream headers, for
// use as wire fixtures by other implementations.
func main() {
    outDir := flag.String("out", "testdata/frame", "output directory for binary frames")
    flag.Parse()
    if err := os.MkdirAll(*outDir, 0o755); err != nil { log.Fatal(err) }

    reg := codec.NewRegistry()
    key := protocol.TransferKey(0x0123456789abcdef)
    frames := []protocol.Frame{
        protocol.HelloFrame(),
        protocol.DataFrame([]byte("hello, capability")),
        protocol.BeginTransferFrame("node-c", key),
        protocol.AckTransferFrame(),
        protocol.EndTransferFrame(),
        protocol.ShutdownFrame(nil),
        protocol.ShutdownFrame(errors.New("handle closed")),
    }
    for _, format := range []protocol.Format{protocol.FormatCBOR, protocol.FormatJSON, protocol.FormatProto} {
        for i, f := range frames {
            b, err := protocol.EncodeFrame(reg, format, f)
            if err != nil { log.Fatal(err) }
            writeOut(*outDir, fmt.Sprintf("%s_%d_%s.bin", format, i, f.Kind), b)
        }
    }

    hdr := protocol.StreamHeader{Purpose: protocol.PurposeTransfer, Source: "node-a", Dest: "node-c", Stream: 0x42, Key: key, HandleKind: "channel"}
    for _, format := range []protocol.Format{protocol.FormatCBOR, protocol.FormatJSON} {
        b, err := protocol.EncodeHeader(reg, format, hdr)
        if err != nil { log.Fatal(err) }
        writeOut(*outDir, fmt.Sprintf("%s_header_transfer.bin", format), b)
    }

    fmt.Println("Generated frames in", *outDir)
}

func writeOut(dir, name string, b []byte) {
    p := filepath.Join(dir, name)
    if err := os.WriteFile(p, b, 0o644); err != nil { log.Fatal(err) }
    fmt.Printf("%-32s %5d bytes  head: %s\n", name, len(b), shortHex(b, 32))
}

func shortHex(b []byte, n int) string {
    if len(b) == 0 { return "" }
    if n > len(b) { n = len(b) }
    enc := hex.EncodeToString(b[:n])
    if len(b) > n { enc += "..." }
    var out []string
    for i := 0; i < len(enc); i += 4 {
        j := i + 4
        if j > len(enc) { j = len(enc) }
        out = append(out, enc[i:j])
    }
    return strings.Join(out, " ")
}
