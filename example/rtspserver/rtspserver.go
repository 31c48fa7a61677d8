package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wh8199/log"

	"github.com/galaxy-iot/media-relay/conf"
	"github.com/galaxy-iot/media-relay/confwatcher"
	"github.com/galaxy-iot/media-relay/relay"
	"github.com/galaxy-iot/media-relay/rtsp"
	"github.com/galaxy-iot/media-relay/sdp"
)

var version = "v0.0.0"

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" default:"media-relay.yml"`
}

func main() {
	parser, err := kong.New(&cli,
		kong.Description("media-relay "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is media-relay.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg, err := conf.Load(cli.Confpath)
	if err != nil {
		log.Fatal(err)
	}

	description, err := sdp.Parse(cfg.Description)
	if err != nil {
		log.Fatal(err)
	}

	s, err := rtsp.NewServer(cfg.ServerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	r := relay.New(description.Video.PayloadType)

	s.OnError(func(err error) {
		log.Fatal(err)
	})
	s.OnSession(func(session *rtsp.Session) {
		log.Info(fmt.Sprintf("new session %s from %s", session, session.VideoAddr()))
		r.Attach(session)
	})
	s.OnReady(func() {
		log.Info("start to handle rtsp connections")
	})

	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.IngestAddress != "" {
		pc, err := net.ListenPacket("udp", cfg.IngestAddress)
		if err != nil {
			log.Fatal(err)
		}
		defer pc.Close()

		go func() {
			if err := r.Serve(ctx, pc); err != nil {
				log.Error(err)
			}
		}()
	}

	if cfg.DescriptionFile != "" {
		w := &confwatcher.Watcher{FilePath: cfg.DescriptionFile}
		w.OnChange(func(content []byte) {
			if err := s.SetDescription(string(content)); err != nil {
				log.Error(fmt.Sprintf("description not reloaded: %v", err))
				return
			}
			r.SetPayloadType(s.SessionDescription().Video.PayloadType)
		})
		w.OnError(func(err error) {
			log.Error(err)
		})

		if err := w.Initialize(); err != nil {
			log.Fatal(err)
		}
		defer w.Close()
	}

	if err := s.Wait(ctx); err != nil {
		log.Fatal(err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	forwarded, dropped := r.Stats()
	log.Info(fmt.Sprintf("shutting down, %d packets forwarded, %d dropped", forwarded, dropped))
}
