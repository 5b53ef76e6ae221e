package main

import (
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/xlnfinance/xln/signing"
	"github.com/xlnfinance/xln/xlnwire"
)

// daemonSigner adapts a single signing.KeySigner into the full
// signing.Signer interface for a single-signer entity, resolving the one
// counterparty identity xlnd was started as (--entityid) to that key's
// public half. Multi-signer (threshold > 1) entities need a registry
// mapping every co-signer's EntityID to its pubkey; that registry is left
// for a later iteration, noted in DESIGN.md.
type daemonSigner struct {
	self   xlnwire.EntityID
	signer *signing.KeySigner
	pub    *btcec.PublicKey
}

// newDaemonSigner generates an ephemeral keypair for self. Production use
// would load a persisted key from cfg.HomeDir instead; xlnd has no wallet
// subsystem yet (§11's TLV/transport layer, also deferred).
func newDaemonSigner(self xlnwire.EntityID) (*daemonSigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &daemonSigner{
		self:   self,
		signer: signing.NewKeySigner(priv),
		pub:    priv.PubKey(),
	}, nil
}

func (d *daemonSigner) Sign(hash xlnwire.Hash256) (xlnwire.Hanko, error) {
	return d.signer.Sign(hash)
}

func (d *daemonSigner) Verify(hash xlnwire.Hash256, hanko xlnwire.Hanko, signerID xlnwire.EntityID) error {
	if signerID != d.self {
		return signing.ErrInvalidHanko
	}
	return signing.Verify(hash, hanko, d.pub)
}
