/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Command wiretun is the CLI front-end wiring config, device, conn,
// and tun together: bring an interface up from a config file, print
// genkey/pubkey helpers, and show the running state over UAPI. There
// is no down subcommand.
package main

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/wiretun-dev/wiretun/config"
	"github.com/wiretun-dev/wiretun/conn"
	"github.com/wiretun-dev/wiretun/device"
	"github.com/wiretun-dev/wiretun/ipc"
	"github.com/wiretun-dev/wiretun/tun"
)

func main() {
	app := &cli.App{
		Name:  "wiretun",
		Usage: "user-space WireGuard tunnel engine",
		Commands: []*cli.Command{
			genkeyCommand,
			pubkeyCommand,
			upCommand,
			showCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var genkeyCommand = &cli.Command{
	Name:  "genkey",
	Usage: "generate a new private key",
	Action: func(c *cli.Context) error {
		fmt.Println(device.GeneratePrivateKey())
		return nil
	},
}

var pubkeyCommand = &cli.Command{
	Name:  "pubkey",
	Usage: "derive a public key from a private key read on stdin",
	Action: func(c *cli.Context) error {
		var priv string
		if _, err := fmt.Scanln(&priv); err != nil {
			return fmt.Errorf("reading private key from stdin: %w", err)
		}
		pub, err := device.GetPublicKeyFromPrivateKey(priv)
		if err != nil {
			return err
		}
		fmt.Println(pub)
		return nil
	},
}

var upCommand = &cli.Command{
	Name:      "up",
	Usage:     "bring up an interface from a config file",
	ArgsUsage: "<interface-name> <config-file>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return fmt.Errorf("usage: wiretun up <interface-name> <config-file>")
		}
		name := c.Args().Get(0)
		path := c.Args().Get(1)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		cfg, err := config.Parse(f)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}

		tunDevice, err := tun.CreateTUN(name, 0)
		if err != nil {
			return fmt.Errorf("creating TUN device %s: %w", name, err)
		}

		logger := device.NewLogger(device.LogLevelVerbose, name)
		dev := device.NewDevice(tunDevice, conn.NewStdNetBind(), logger)

		uapiConf, err := cfg.UAPIString()
		if err != nil {
			return fmt.Errorf("rendering UAPI config: %w", err)
		}
		if err := dev.IpcSet(uapiConf); err != nil {
			return fmt.Errorf("applying config: %w", err)
		}

		if err := dev.Up(); err != nil {
			return fmt.Errorf("bringing up device: %w", err)
		}

		listener, err := ipc.UAPIListen(name)
		if err != nil {
			return fmt.Errorf("listening on UAPI socket: %w", err)
		}
		defer listener.Close()

		logger.Verbosef("interface %s up, serving UAPI", name)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return err
			}
			go dev.IpcHandle(conn)
		}
	},
}

var showCommand = &cli.Command{
	Name:      "show",
	Usage:     "show the running state of an interface over its UAPI socket",
	ArgsUsage: "<interface-name>",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 1 {
			return fmt.Errorf("usage: wiretun show <interface-name>")
		}
		name := c.Args().Get(0)

		sock, err := net.Dial("unix", "/var/run/wiretun/"+name+".sock")
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", name, err)
		}
		defer sock.Close()

		if _, err := fmt.Fprint(sock, "get=1\n\n"); err != nil {
			return err
		}

		buf := make([]byte, 4096)
		n, err := sock.Read(buf)
		if err != nil {
			return err
		}
		fmt.Print(string(buf[:n]))
		return nil
	},
}
