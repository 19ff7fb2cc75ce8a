package config

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// NodeRPC is the CometBFT RPC endpoint used to confirm transactions.
	NodeRPC string
	// NodeGRPC is the gRPC endpoint of the node the signer broadcasts to.
	NodeGRPC string
	// IndexerAPI serves pool and position data.
	IndexerAPI string
	// SignerAPI signs and broadcasts operations on behalf of the owner. Only required in live mode.
	SignerAPI string
	// RedisAddr enables the shared route cache when set.
	RedisAddr string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	IndexerAPI, err = getEnv("INDEXER_API")
	if err != nil {
		return err
	}

	if Mode == "live" {
		NodeRPC, err = getEnv("NODE_RPC")
		if err != nil {
			return err
		}

		NodeGRPC, err = getEnv("NODE_GRPC")
		if err != nil {
			return err
		}

		SignerAPI, err = getEnv("SIGNER_API")
		if err != nil {
			return err
		}
	}

	RedisAddr = os.Getenv("REDIS_ADDR")

	log.Debug().
		Str("NodeRPC", NodeRPC).
		Str("NodeGRPC", NodeGRPC).
		Str("IndexerAPI", IndexerAPI).
		Str("SignerAPI", SignerAPI).
		Bool("RedisCache", RedisAddr != "").
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
