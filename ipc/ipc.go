/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package ipc provides the UNIX-socket transport for the UAPI
// configuration protocol. The wire protocol itself (the get=1/set=1
// textual operations) is implemented by device.IpcHandle; this
// package only owns naming the socket, preventing two instances of
// the same interface from binding it at once, and handing back a
// net.Listener whose Accept loop feeds device.IpcHandle.
package ipc

// Error codes returned as the UAPI errno= line. These are negated
// Linux errno values, the codes userspace wg(8) already knows how to
// interpret.
const (
	IpcErrorIO        = -5  // EIO
	IpcErrorProtocol  = -71 // EPROTO
	IpcErrorInvalid   = -22 // EINVAL
	IpcErrorPortInUse = -98 // EADDRINUSE
	IpcErrorUnknown   = -55 // ENOANO
)
