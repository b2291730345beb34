// Package gateway provides the public API for embedding the gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/openwebui-gateway/internal/gatewayapp"
)

// Gateway is the main entry point for running the gateway. See
// internal/gatewayapp.Gateway for full documentation.
type Gateway = gatewayapp.Gateway

// Option is a functional option for configuring a Gateway.
type Option = gatewayapp.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithAuditDSN("postgres://..."),
//	    gateway.WithRedisURL("redis://..."),
//	)
var New = gatewayapp.New

var (
	WithLogger           = gatewayapp.WithLogger
	WithPort             = gatewayapp.WithPort
	WithDrainWorkers     = gatewayapp.WithDrainWorkers
	WithAuditDSN         = gatewayapp.WithAuditDSN
	WithWebUIDSN         = gatewayapp.WithWebUIDSN
	WithRedisURL         = gatewayapp.WithRedisURL
	WithConfigBusFactory = gatewayapp.WithConfigBusFactory
)
