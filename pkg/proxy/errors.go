package proxy

import (
    "errors"
    "fmt"

    "ttxfer/pkg/handle"
)

var (
    // ErrProtocolViolation means the peer sent a frame that is illegal in the
    // current state. The flow stops without sending anything further.
    ErrProtocolViolation = errors.New("proxy: protocol violation")
    // ErrAlreadyTransferring is returned when the handle was already taken.
    ErrAlreadyTransferring = errors.New("proxy: handle already transferring")
    // ErrRouter wraps failures reported by Router.OpenTransfer.
    ErrRouter = errors.New("proxy: router error")
    // ErrRouterGone is returned once the router behind a proxy was released.
    ErrRouterGone = errors.New("proxy: router is gone")
    // ErrAbandoned is returned to a move that lost against an incoming transfer.
    ErrAbandoned = errors.New("proxy: move abandoned")
    // ErrRefSent is returned by a StreamRefSender signalled twice.
    ErrRefSent = errors.New("proxy: stream ref already sent")

    // ErrHandleClosed is the normal end of a handle read.
    ErrHandleClosed = handle.ErrPeerClosed
)

func violation(format string, args ...any) error {
    return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
