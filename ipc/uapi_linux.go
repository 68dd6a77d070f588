/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const socketDirectory = "/var/run/wiretun"

func sockPath(interfaceName string) string {
	return filepath.Join(socketDirectory, interfaceName+".sock")
}

// UAPIListen binds the UAPI UNIX socket for the named interface,
// refusing to start a second instance against the same name. The
// returned listener's Accept loop is expected to hand each
// connection to a Device's IpcHandle.
func UAPIListen(interfaceName string) (net.Listener, error) {
	if err := os.MkdirAll(socketDirectory, 0o750); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(socketDirectory, "."+interfaceName+".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("UAPI socket for %s already in use: %w", interfaceName, err)
	}

	path := sockPath(interfaceName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		lockFile.Close()
		return nil, err
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		lockFile.Close()
		return nil, err
	}

	return &uapiListener{Listener: listener, lockFile: lockFile, path: path}, nil
}

// uapiListener removes the socket file and releases the lock on
// Close, so a later UAPIListen for the same interface can rebind.
type uapiListener struct {
	net.Listener
	lockFile *os.File
	path     string
}

func (l *uapiListener) Close() error {
	err := l.Listener.Close()
	os.Remove(l.path)
	l.lockFile.Close()
	return err
}
