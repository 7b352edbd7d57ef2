package notify

import (
	"context"

	"github.com/nexus-trading/poolwatch/internal/bus"
)

// BusSink mirrors structured alerts onto a Kafka topic keyed by token mint.
// Messages without an Alert (command replies) are skipped.
type BusSink struct {
	producer bus.Producer
	topic    string
	source   string
}

func NewBusSink(producer bus.Producer, topic, source string) *BusSink {
	return &BusSink{producer: producer, topic: topic, source: source}
}

func (s *BusSink) Name() string { return "kafka:" + s.topic }

func (s *BusSink) Send(ctx context.Context, msg Message) error {
	if msg.Alert == nil {
		return nil
	}
	return s.producer.PublishJSON(ctx, s.topic, msg.Alert.Snapshot.TokenMint, toPoolAlert(s.source, msg.Alert))
}

func toPoolAlert(source string, a *Alert) bus.PoolAlert {
	snap := a.Snapshot
	return bus.PoolAlert{
		BaseEvent:      bus.NewBaseEvent(source, a.RunID),
		Trigger:        string(a.Trigger),
		Signature:      a.Signature,
		TokenMint:      snap.TokenMint,
		TokenName:      snap.TokenName,
		TokenSymbol:    snap.TokenSymbol,
		PriceUSD:       snap.PriceUSD,
		MarketCapUSD:   snap.MarketCapUSD,
		LiquidityUSD:   snap.LiquidityUSD,
		Venue:          snap.VenueMatched,
		PairURL:        snap.PairURL,
		PairsAvailable: snap.PairsAvailable,
		SafetyFlags:    a.SafetyFlags,
		PumpStyle:      snap.PumpStyle,
	}
}
