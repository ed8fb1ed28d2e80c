package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rdt-sack-pa/link"
	protocol "rdt-sack-pa/pkg"
)

// ./sender <send_ip> <send_port> <agent_ip> <agent_port> <src_filepath>
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) != 6 {
		fmt.Fprintf(os.Stderr, "Usage: %s <send_ip> <send_port> <agent_ip> <agent_port> <src_filepath>\n", os.Args[0])
		os.Exit(1)
	}

	local, err := protocol.ParseAddrPort(os.Args[1], os.Args[2])
	if err != nil {
		log.Fatal().Err(err).Msg("sender address")
	}
	agent, err := protocol.ParseAddrPort(os.Args[3], os.Args[4])
	if err != nil {
		log.Fatal().Err(err).Msg("agent address")
	}
	srcPath := os.Args[5]

	cfg := protocol.DefaultConfig()
	data, err := protocol.ReadSource(srcPath, cfg.MaxFileSize)
	if err != nil {
		log.Fatal().Err(err).Msg("reading source file")
	}

	conn, err := link.Listen(local, agent)
	if err != nil {
		log.Fatal().Err(err).Msg("binding socket")
	}
	defer conn.Close()

	sender, err := protocol.NewSender(cfg, conn, data, protocol.NewTracer(os.Stdout))
	if err != nil {
		log.Fatal().Err(err).Msg("creating sender")
	}
	log.Info().
		Str("local", conn.LocalAddr.String()).
		Str("agent", agent.String()).
		Str("file", srcPath).
		Int("bytes", len(data)).
		Int("segments", sender.TotalSegments()).
		Msg("starting transfer")

	if err := sender.Run(); err != nil {
		log.Fatal().Err(err).Msg("transfer failed")
	}
	log.Info().
		Int("sent", sender.Stats.Sent).
		Int("resent", sender.Stats.Resent).
		Int("timeouts", sender.Stats.Timeouts).
		Int("fast_retransmits", sender.Stats.FastRetransmits).
		Msg("transfer complete")
}
