package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rdt-sack-pa/agent"
	"rdt-sack-pa/link"
	protocol "rdt-sack-pa/pkg"
)

type Arguments struct {
	ListenIP     string
	ListenPort   string
	SenderIP     string
	SenderPort   string
	ReceiverIP   string
	ReceiverPort string
	Loss         float64
	Corrupt      float64
	Dup          float64
	Reorder      float64
	Delay        time.Duration
	Seed         int64
	StatsAddr    string
	Debug        bool
}

func parseArguments() *Arguments {
	args := &Arguments{}
	flag.StringVar(&args.ListenIP, "ip", "localhost", "Agent IP")
	flag.StringVar(&args.ListenPort, "port", "8888", "Agent port")
	flag.StringVar(&args.SenderIP, "sender-ip", "localhost", "Sender IP")
	flag.StringVar(&args.SenderPort, "sender-port", "8887", "Sender port")
	flag.StringVar(&args.ReceiverIP, "receiver-ip", "localhost", "Receiver IP")
	flag.StringVar(&args.ReceiverPort, "receiver-port", "8889", "Receiver port")
	flag.Float64Var(&args.Loss, "loss", 0, "Probability of dropping a data segment")
	flag.Float64Var(&args.Corrupt, "corrupt", 0, "Probability of corrupting a data segment")
	flag.Float64Var(&args.Dup, "dup", 0, "Probability of duplicating a data segment")
	flag.Float64Var(&args.Reorder, "reorder", 0, "Probability of delaying a data segment")
	flag.DurationVar(&args.Delay, "delay", 50*time.Millisecond, "Hold time for delayed segments")
	flag.Int64Var(&args.Seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.StringVar(&args.StatsAddr, "stats", "", "Serve relay counters as JSON on this address (e.g. :8080)")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug output")
	flag.Parse()
	return args
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	args := parseArguments()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if args.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	local, err := protocol.ParseAddrPort(args.ListenIP, args.ListenPort)
	if err != nil {
		log.Fatal().Err(err).Msg("agent address")
	}
	sender, err := protocol.ParseAddrPort(args.SenderIP, args.SenderPort)
	if err != nil {
		log.Fatal().Err(err).Msg("sender address")
	}
	receiver, err := protocol.ParseAddrPort(args.ReceiverIP, args.ReceiverPort)
	if err != nil {
		log.Fatal().Err(err).Msg("receiver address")
	}

	conn, err := link.Listen(local, receiver)
	if err != nil {
		log.Fatal().Err(err).Msg("binding socket")
	}
	defer conn.Close()

	relay, err := agent.NewRelay(agent.Config{
		Sender:      sender,
		Receiver:    receiver,
		PayloadSize: protocol.MaxSegmentSize,
		LossRate:    args.Loss,
		CorruptRate: args.Corrupt,
		DupRate:     args.Dup,
		ReorderRate: args.Reorder,
		Delay:       args.Delay,
		Seed:        args.Seed,
	}, conn, protocol.NewTracer(os.Stdout))
	if err != nil {
		log.Fatal().Err(err).Msg("creating relay")
	}

	if args.StatsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/stats", relay.StatsHandler())
		go func() {
			if err := http.ListenAndServe(args.StatsAddr, handlers.LoggingHandler(os.Stderr, mux)); err != nil {
				log.Error().Err(err).Msg("stats server stopped")
			}
		}()
		log.Info().Str("addr", args.StatsAddr).Msg("serving stats")
	}

	log.Info().
		Str("local", conn.LocalAddr.String()).
		Str("sender", sender.String()).
		Str("receiver", receiver.String()).
		Float64("loss", args.Loss).
		Float64("corrupt", args.Corrupt).
		Int64("seed", args.Seed).
		Msg("relaying")

	if err := relay.Run(); err != nil {
		log.Fatal().Err(err).Msg("relay failed")
	}
	stats := relay.Stats()
	log.Info().
		Int("data", stats.Data).
		Int("dropped", stats.Dropped).
		Int("corrupted", stats.Corrupted).
		Int("acks", stats.Acks).
		Msg("relay finished")
}
