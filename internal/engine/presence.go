package engine

import (
	"github.com/matheus3301/helpchat/internal/bus"
	"go.uber.org/zap"
)

// presence reacts to the connection coming and going: agents cannot be
// online for a client that is not connected.
type presence struct {
	storage interface {
		MakeAllAgentsOffline() (int64, error)
	}
	bus    *bus.Bus
	logger *zap.Logger
}

func newPresence(st Storage, b *bus.Bus, logger *zap.Logger) *presence {
	return &presence{storage: st, bus: b, logger: logger.Named("presence")}
}

func (p *presence) reactToActiveConnection() {
	p.logger.Debug("connection active")
}

func (p *presence) reactToInactiveConnection() {
	n, err := p.storage.MakeAllAgentsOffline()
	if err != nil {
		p.logger.Error("failed to mark agents offline", zap.Error(err))
		return
	}
	p.logger.Debug("connection inactive", zap.Int64("agents_offline", n))
	p.bus.Emit(bus.ChatChannelAgentsUpdated, AgentsUpdated{})
}
