package main

import (
	"flag"

	"github.com/danmuck/pigeon/internal/config"
	"github.com/danmuck/pigeon/internal/logging"
	"github.com/rs/zerolog/log"
)

func defaultPath(kind string) string {
	switch kind {
	case "pigeond":
		return "cmd/pigeond/config.toml"
	case "peers":
		return "cmd/pigeonctl/peers.toml"
	default:
		log.Fatal().Str("kind", kind).Msg("unknown kind")
		return ""
	}
}

func main() {
	logging.ConfigureRuntime()

	kind := flag.String("kind", "peers", "config kind: pigeond|peers")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing peer book (pigeond configs: run pigeond -check)")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if *kind != "peers" {
			log.Fatal().Str("kind", *kind).Msg("validation supports kind=peers only")
		}
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		book, err := config.LoadPeerBook(path)
		if err != nil {
			log.Fatal().Err(err).Msg("validation failed")
		}
		log.Info().Str("path", path).Int("peers", len(book.Peers)).Msg("validated peer book")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
