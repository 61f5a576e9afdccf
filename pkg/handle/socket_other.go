//go:build !unix

package handle

import "errors"

// NewSocketPair needs unix domain sockets.
func NewSocketPair() (Handle, Handle, error) {
    return nil, nil, errors.New("handle: socket pairs need a unix platform")
}
