package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pion/rtp"
	"github.com/wh8199/log"

	"github.com/galaxy-iot/media-relay/rtsp"
)

var cli struct {
	URL     string        `arg:"" default:"rtsp://127.0.0.1:8554/stream" help:"stream URL"`
	Timeout time.Duration `default:"10s" help:"request timeout"`
	Port    int           `default:"0" help:"local RTP port, 0 to pick one"`
}

func main() {
	kong.Parse(&cli,
		kong.Description("plays a unicast UDP stream and prints packet statistics"),
		kong.UsageOnError())

	pc, err := net.ListenUDP("udp", &net.UDPAddr{Port: cli.Port})
	if err != nil {
		log.Fatal(err)
	}
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	c, err := rtsp.DialTimeout(cli.URL, cli.Timeout)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	public, err := c.Options()
	if err != nil {
		log.Fatal(err)
	}
	log.Info("supported methods: " + public)

	description, err := c.Describe()
	if err != nil {
		log.Fatal(err)
	}
	log.Info(fmt.Sprintf("stream %q, video %s/%d payload type %d", description.Name,
		description.Video.Encoding, description.Video.TimeScale, description.Video.PayloadType))

	session, transport, err := c.Setup(rtsp.PortRange{First: port, Last: port + 1})
	if err != nil {
		log.Fatal(err)
	}
	serverPort, _ := transport.Param("server_port")
	log.Info(fmt.Sprintf("session %d, server_port=%s", session, serverPort))

	if _, err := c.Play(session, "npt=0.000-"); err != nil {
		log.Fatal(err)
	}
	defer c.Teardown(session)

	go read(pc)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

func read(pc net.PacketConn) {
	buf := make([]byte, 2048)
	received := 0
	lost := 0
	var lastSeq uint16
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			log.Error(err)
			continue
		}

		if received > 0 {
			if diff := pkt.SequenceNumber - lastSeq; diff > 1 {
				lost += int(diff) - 1
			}
		}
		lastSeq = pkt.SequenceNumber
		received++

		select {
		case <-ticker.C:
			log.Info(fmt.Sprintf("received %d packets, %d lost, last timestamp %d", received, lost, pkt.Timestamp))
		default:
		}
	}
}
