package node

import (
	"context"
	"encoding/json"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapd/pkg/logging"
)

// OfferTopic is the gossipsub topic peers use to advertise willingness to
// swap before either side runs the bilateral announce protocol.
const OfferTopic = "/swapd/offer/1.0.0"

// Offer is a non-binding advertisement of a swap a peer is willing to make.
// It carries no HTLC parameters: an interested peer still has to negotiate
// the swap itself through the announce protocol.
type Offer struct {
	PeerID      string `json:"peer_id"`
	AlphaLedger string `json:"alpha_ledger"`
	AlphaAsset  string `json:"alpha_asset"`
	BetaLedger  string `json:"beta_ledger"`
	BetaAsset   string `json:"beta_asset"`
}

// OfferHandler processes offers received from the network.
type OfferHandler func(from peer.ID, offer *Offer)

// OfferBroadcaster publishes and subscribes to the offer topic. It is a
// thin layer above the node's pubsub instance: losing it does not affect
// in-flight swaps, only discovery of new counterparties.
type OfferBroadcaster struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *logging.Logger

	mu       sync.RWMutex
	handlers []OfferHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// newOfferBroadcaster joins the offer topic on ps and starts reading
// incoming messages in the background. selfID is excluded from delivery.
func newOfferBroadcaster(ctx context.Context, ps *pubsub.PubSub, selfID peer.ID) (*OfferBroadcaster, error) {
	topic, err := ps.Join(OfferTopic)
	if err != nil {
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &OfferBroadcaster{
		topic:  topic,
		sub:    sub,
		log:    logging.GetDefault().Component("offers"),
		ctx:    ctx,
		cancel: cancel,
	}
	go b.readLoop(selfID)
	return b, nil
}

func (b *OfferBroadcaster) readLoop(selfID peer.ID) {
	for {
		msg, err := b.sub.Next(b.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == selfID {
			continue
		}

		var offer Offer
		if err := json.Unmarshal(msg.Data, &offer); err != nil {
			b.log.Debug("dropping malformed offer", "peer", shortID(msg.ReceivedFrom), "error", err)
			continue
		}

		b.mu.RLock()
		handlers := append([]OfferHandler(nil), b.handlers...)
		b.mu.RUnlock()
		for _, h := range handlers {
			h(msg.ReceivedFrom, &offer)
		}
	}
}

// OnOffer registers a callback invoked for every offer received from a peer.
func (b *OfferBroadcaster) OnOffer(h OfferHandler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish broadcasts offer to the topic.
func (b *OfferBroadcaster) Publish(ctx context.Context, offer *Offer) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return b.topic.Publish(ctx, data)
}

func (b *OfferBroadcaster) stop() {
	b.cancel()
	b.sub.Cancel()
	b.topic.Close()
}

// Offers returns the node's offer broadcaster, or nil if pubsub is
// unavailable.
func (n *Node) Offers() *OfferBroadcaster {
	return n.offers
}
