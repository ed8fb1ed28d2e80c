package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rdt-sack-pa/link"
	protocol "rdt-sack-pa/pkg"
)

// ./receiver <recv_ip> <recv_port> <agent_ip> <agent_port> <dst_filepath>
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if len(os.Args) != 6 {
		fmt.Fprintf(os.Stderr, "Usage: %s <recv_ip> <recv_port> <agent_ip> <agent_port> <dst_filepath>\n", os.Args[0])
		os.Exit(1)
	}

	local, err := protocol.ParseAddrPort(os.Args[1], os.Args[2])
	if err != nil {
		log.Fatal().Err(err).Msg("receiver address")
	}
	agent, err := protocol.ParseAddrPort(os.Args[3], os.Args[4])
	if err != nil {
		log.Fatal().Err(err).Msg("agent address")
	}
	dstPath := os.Args[5]

	conn, err := link.Listen(local, agent)
	if err != nil {
		log.Fatal().Err(err).Msg("binding socket")
	}
	defer conn.Close()

	receiver, err := protocol.NewReceiver(protocol.DefaultConfig(), conn, dstPath, protocol.NewTracer(os.Stdout))
	if err != nil {
		log.Fatal().Err(err).Msg("creating receiver")
	}
	log.Info().
		Str("local", conn.LocalAddr.String()).
		Str("agent", agent.String()).
		Str("file", dstPath).
		Msg("waiting for transfer")

	if err := receiver.Run(); err != nil {
		log.Fatal().Err(err).Msg("transfer failed")
	}
	log.Info().
		Int("bytes", len(receiver.Output())).
		Str("sha256", receiver.FinalDigest).
		Int("discarded", conn.Dropped).
		Msg("transfer complete")
}
