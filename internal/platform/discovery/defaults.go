// Package discovery centralizes internal service-discovery conventions.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceSettlement is the settlement admin gRPC service identity.
	ServiceSettlement = "settlement"
	// ServiceWorker is the outbox relay worker identity.
	ServiceWorker = "worker"
)

var grpcPorts = map[string]int{
	ServiceSettlement: 8082,
	ServiceWorker:     8089,
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}

// ListenAddr turns a port into a bind address for all interfaces.
func ListenAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || service == "" {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}
