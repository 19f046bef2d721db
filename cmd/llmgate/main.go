package main

import (
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/gateway"
)

func main() {
	gw, err := gateway.NewGateway()
	if err != nil {
		log.Fatal().Err(err).Msg("error creating gateway service")
	}

	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited with error")
	}
	log.Info().Msg("gateway stopped")
}
