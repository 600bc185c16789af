// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command muxrelay bridges framed command streams between a local listener
// and a target endpoint through one selector hub. Each accepted connection
// gets a dialed counterpart; messages are pumped both ways with optional
// snappy payload compression on the target leg.
package main

import (
	"log/slog"
	"net"
	"os"
	"runtime"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"code.hybscloud.com/muxhub"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "muxrelay"
	app.Usage = "relay framed command streams through a selector hub"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: ":12900",
			Usage: "local listen address",
		},
		cli.StringFlag{
			Name:  "target,t",
			Value: "127.0.0.1:12901",
			Usage: "target address to bridge every accepted connection to",
		},
		cli.IntFlag{
			Name:  "framesize",
			Value: muxhub.DefaultFrameSize,
			Usage: "per-chunk payload cap, up to 32767",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable snappy payload compression on the target leg",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "only log failures",
		},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		slog.Error("muxrelay failed", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := slog.LevelInfo
	if c.Bool("quiet") {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	hub, err := muxhub.New(
		muxhub.WithFrameSize(c.Int("framesize")),
		muxhub.WithLogger(logger),
	)
	if err != nil {
		return errors.Wrap(err, "creating hub")
	}
	go func() {
		if err := hub.Run(); err != nil {
			logger.Error("selector loop exited", "err", err)
			os.Exit(1)
		}
	}()
	for !hub.Running() {
		runtime.Gosched()
	}
	defer hub.Close() //nolint:errcheck

	ln, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		return errors.Wrap(err, "listening")
	}
	logger.Info("relaying", "listen", c.String("listen"), "target", c.String("target"),
		"framesize", c.Int("framesize"), "compression", !c.Bool("nocomp"))

	for {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accepting")
		}
		go bridge(hub, logger, conn, c.String("target"), !c.Bool("nocomp"))
	}
}

func bridge(hub *muxhub.Hub, logger *slog.Logger, conn net.Conn, target string, compress bool) {
	back, err := net.Dial("tcp", target)
	if err != nil {
		logger.Warn("dialing target failed", "err", err)
		conn.Close()
		return
	}

	front, err := hub.Attach(conn, conn)
	if err != nil {
		logger.Warn("attaching front leg failed", "err", err)
		conn.Close()
		back.Close()
		return
	}
	rear, err := hub.Attach(back, back)
	if err != nil {
		logger.Warn("attaching target leg failed", "err", err)
		conn.Close()
		back.Close()
		return
	}

	var encode, decode func([]byte) ([]byte, error)
	if compress {
		encode = func(p []byte) ([]byte, error) { return snappy.Encode(nil, p), nil }
		decode = func(p []byte) ([]byte, error) { return snappy.Decode(nil, p) }
	}
	front.Setup(muxhub.NewPump(rear, encode))
	rear.Setup(muxhub.NewPump(front, decode))

	// The hub drives duplicated descriptors; the originals can go.
	conn.Close()
	back.Close()

	logger.Info("bridged", "peer", conn.RemoteAddr(), "target", target)
}
