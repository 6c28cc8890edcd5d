// Package instanceshell provides the command dispatch boilerplate shared by
// every module executable: subscribing to a set of inbound channels,
// decoding wrapped commands, invoking a dispatch function, and publishing
// the wrapped response back with the same correlation id.
package instanceshell

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/voltproto/tradecore/protocol"
	"github.com/voltproto/tradecore/pubsub"
)

// ArgsInstanceID reads the instance id the supervisor assigned as this
// process's first positional argument, per the process-spawn surface every
// module executable shares. Remaining positional arguments (a symbol or
// strategy name for SpawnTickParser/SpawnOptimizer) are returned as extra.
func ArgsInstanceID() (id string, extra []string, err error) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "", nil, fmt.Errorf("instanceshell: missing instance id argument")
	}
	return args[0], args[1:], nil
}

// Dispatcher answers a single Command with a Response.
type Dispatcher func(cmd protocol.Command) protocol.Response

// Listen subscribes to every channel in channels on broker. Each inbound
// message is decoded as a WrappedCommand; parse failures are logged and
// dropped (no correlation id is recoverable). Otherwise dispatch is invoked
// and its Response is wrapped with the original correlation id and published
// to responsesChannel.
func Listen(ctx context.Context, broker pubsub.Broker, channels []string, responsesChannel string, dispatch Dispatcher, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	for _, channel := range channels {
		err := broker.Subscribe(ctx, channel, func(payload []byte) {
			wrapped, err := protocol.DecodeWrappedCommand(string(payload))
			if err != nil {
				log.Warn("instanceshell: dropping unparseable command", zap.Error(err))
				return
			}

			res := dispatch(wrapped.Cmd)

			encoded, err := protocol.EncodeWrappedResponse(protocol.WrapResponse(res, wrapped.CorrelationID))
			if err != nil {
				log.Warn("instanceshell: failed to encode response", zap.Error(err))
				return
			}

			if err := broker.Publish(ctx, responsesChannel, []byte(encoded)); err != nil {
				log.Warn("instanceshell: failed to publish response", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Base implements the generic Ping/Type/Kill commands every module must
// accept. OnKill, if set, is called synchronously when Kill arrives, before
// the reply is returned; scheduling the actual exit is left to OnKill.
type Base struct {
	InstanceID string
	Kind       protocol.ModuleKind
	OnKill     func()
}

// Handle answers cmd if it is one of the generic variants. ok is false for
// anything else, signaling the caller to fall through to its own dispatch.
func (b Base) Handle(cmd protocol.Command) (res protocol.Response, ok bool) {
	switch cmd.(type) {
	case protocol.Ping:
		return protocol.Pong{Args: []string{b.InstanceID}}, true
	case protocol.Type:
		return protocol.Info{Info: string(b.Kind)}, true
	case protocol.Kill:
		if b.OnKill != nil {
			b.OnKill()
		}
		return protocol.Info{Info: "Shutting down in 3 seconds..."}, true
	default:
		return nil, false
	}
}

// NotAccepted is the standard reply for a command a module doesn't
// recognize.
func NotAccepted() protocol.Response {
	return protocol.NewError("Command not accepted by this instance")
}

// announcer is the subset of bus.Client a module needs to announce itself.
type announcer interface {
	PublishRaw(ctx context.Context, cmd protocol.Command, targetChannel string) error
}

// Announce publishes Ready on controlChannel so the supervisor can add this
// instance to its living list.
func Announce(ctx context.Context, client announcer, controlChannel string, kind protocol.ModuleKind, instanceID string) error {
	return client.PublishRaw(ctx, protocol.Ready{ModuleKind: kind, InstanceID: instanceID}, controlChannel)
}
