package chaos

import (
	"context"
	"fmt"
	"strconv"
)

// Reversal operation names stored with pending reversals.
const (
	reverseDockerConnect = "docker_connect"
	reverseTCClear       = "tc_clear"
)

func dockerNetwork(ctx context.Context, r CommandRunner, action, network, container string) error {
	return r.Run(ctx, "docker", "network", action, network, container)
}

func (c Config) tc(ctx context.Context, r CommandRunner, args ...string) error {
	if c.UseSudo {
		return r.Run(ctx, "sudo", append([]string{"tc"}, args...)...)
	}
	return r.Run(ctx, "tc", args...)
}

func (c Config) addNetem(ctx context.Context, r CommandRunner, iface string, delayMs, lossPercent int) error {
	return c.tc(ctx, r, "qdisc", "add", "dev", iface, "root", "netem",
		"delay", strconv.Itoa(delayMs)+"ms",
		"loss", strconv.Itoa(lossPercent)+"%")
}

func (c Config) delNetem(ctx context.Context, r CommandRunner, iface string) error {
	return c.tc(ctx, r, "qdisc", "del", "dev", iface, "root", "netem")
}

// reverse undoes a recorded disruption.
func (c Config) reverse(ctx context.Context, r CommandRunner, operation string, params map[string]any) error {
	switch operation {
	case reverseDockerConnect:
		return dockerNetwork(ctx, r, "connect", stringParam(params, "network"), stringParam(params, "container"))
	case reverseTCClear:
		return c.delNetem(ctx, r, stringParam(params, "iface"))
	default:
		return fmt.Errorf("%w: reversal %q", ErrUnknownOperation, operation)
	}
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
