package abuse

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Flow names an abuse-sensitive action.
type Flow string

const (
	FlowPaymentStart  Flow = "payment_start"
	FlowRefundRequest Flow = "refund_request"
	// FlowPINVerify is reserved for the upstream PIN collaborator, which
	// calls Gate.Check itself; no settlement route verifies PINs.
	FlowPINVerify Flow = "pin_verify"
)

// Limit caps attempts per IP and per user inside a sliding window. A zero
// cap disables that dimension.
type Limit struct {
	IP     int           `json:"ip" yaml:"ip"`
	User   int           `json:"user" yaml:"user"`
	Window time.Duration `json:"window" yaml:"window"`
}

// Policy maps each flow to its limits.
type Policy map[Flow]Limit

// DefaultPolicy returns the built-in limits.
func DefaultPolicy() Policy {
	return Policy{
		FlowPaymentStart:  {IP: 10, User: 10, Window: time.Minute},
		FlowRefundRequest: {IP: 5, User: 3, Window: 10 * time.Minute},
		FlowPINVerify:     {IP: 10, User: 5, Window: 15 * time.Minute},
	}
}

type policyFile struct {
	Flows map[string]Limit `yaml:"flows"`
}

// LoadPolicy reads a YAML policy file and overlays it on DefaultPolicy. An
// empty path returns the defaults.
//
//	flows:
//	  payment_start:
//	    ip: 20
//	    user: 10
//	    window: 1m
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	path = strings.TrimSpace(path)
	if path == "" {
		return policy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read abuse policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes YAML policy bytes and overlays them on DefaultPolicy.
func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse abuse policy: %w", err)
	}
	for name, limit := range file.Flows {
		flow := Flow(strings.TrimSpace(name))
		if _, ok := policy[flow]; !ok {
			return nil, fmt.Errorf("abuse policy: unknown flow %q", name)
		}
		if limit.IP < 0 || limit.User < 0 {
			return nil, fmt.Errorf("abuse policy: flow %s limits must not be negative", flow)
		}
		if limit.Window <= 0 {
			return nil, fmt.Errorf("abuse policy: flow %s window must be positive", flow)
		}
		policy[flow] = limit
	}
	return policy, nil
}
