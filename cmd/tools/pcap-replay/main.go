// Package main replays captured mocap server traffic from a PCAP file.
// UDP payloads on the data port are sent to a target address with the
// original inter-packet timing preserved, so a bridge under test sees the
// same stream the capture saw. Uses the pure-Go pcapgo reader, so no
// libpcap is required.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	pcapFile = flag.String("pcap", "", "Path to PCAP file (required)")
	target   = flag.String("target", "239.255.42.99", "Target host for replayed datagrams")
	port     = flag.Int("port", 1510, "UDP port to filter on and send to")
	speed    = flag.Float64("speed", 1.0, "Replay speed multiplier (1.0 = real-time)")
	loop     = flag.Bool("loop", false, "Restart from the beginning when the file ends")
)

func main() {
	flag.Parse()

	if *pcapFile == "" {
		fmt.Fprintln(os.Stderr, "Error: PCAP file is required")
		flag.Usage()
		os.Exit(1)
	}
	if *speed <= 0 {
		log.Fatalf("Invalid speed multiplier %.2f", *speed)
	}

	conn, err := net.Dial("udp", net.JoinHostPort(*target, fmt.Sprint(*port)))
	if err != nil {
		log.Fatalf("Failed to dial target: %v", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pass := 0
	for {
		pass++
		sent, err := replayOnce(ctx, conn)
		if err != nil {
			if err == context.Canceled {
				return
			}
			log.Fatalf("Replay failed: %v", err)
		}
		log.Printf("Replay pass %d complete: %d datagrams sent", pass, sent)
		if !*loop {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// replayOnce streams the file from start to end, pacing each datagram by
// the capture timestamps scaled by the speed multiplier.
func replayOnce(ctx context.Context, conn net.Conn) (int, error) {
	f, err := os.Open(*pcapFile)
	if err != nil {
		return 0, fmt.Errorf("failed to open PCAP file %s: %w", *pcapFile, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	sent := 0
	var lastCapture time.Time

	for packet := range source.Packets() {
		select {
		case <-ctx.Done():
			log.Printf("Replay stopping (sent %d datagrams)", sent)
			return sent, ctx.Err()
		default:
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || int(udp.DstPort) != *port || len(udp.Payload) == 0 {
			continue
		}

		captureTime := packet.Metadata().Timestamp
		if !lastCapture.IsZero() {
			delay := time.Duration(float64(captureTime.Sub(lastCapture)) / *speed)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return sent, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		lastCapture = captureTime

		if _, err := conn.Write(udp.Payload); err != nil {
			return sent, fmt.Errorf("failed to send datagram: %w", err)
		}
		sent++

		if sent%1000 == 0 {
			log.Printf("Replay progress: %d datagrams (speed: %.1fx)", sent, *speed)
		}
	}

	return sent, nil
}
