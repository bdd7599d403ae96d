package jlap

import (
	"github.com/agentflare-ai/jsonpatch"
)

// PatchRecord is a single chain link as it appears in a JLAP or patch-store
// row: an RFC 6902 operation array plus the snapshot hashes it bridges
// (spec §3 "Patch").
type PatchRecord struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Patch jsonpatch.Patch `json:"patch"`
}

// SelectChain runs the backward-walk selector of spec §4.7: given patches
// in storage order (oldest first), it finds the unique subsequence bridging
// have to want, returned oldest first and ready to apply in that order.
//
// If have == want, SelectChain returns a nil chain and no error: zero
// patches are needed. If no such chain exists, it returns *NoChainError.
func SelectChain(patches []PatchRecord, have, want string) ([]PatchRecord, error) {
	if have == want {
		return nil, nil
	}

	var reversed []PatchRecord
	needed := want
	for i := len(patches) - 1; i >= 0; i-- {
		if needed == have {
			break
		}
		p := patches[i]
		if p.To == needed {
			reversed = append(reversed, p)
			needed = p.From
		}
	}
	if needed != have {
		return nil, &NoChainError{Have: have, Want: want}
	}

	chain := make([]PatchRecord, len(reversed))
	for i, p := range reversed {
		chain[len(reversed)-1-i] = p
	}
	return chain, nil
}

// Apply selects a chain from patches bridging have to want and applies it
// in place to document, returning the mutated document (spec §4.7). The
// caller is responsible for verifying, after Apply returns, that the
// document's digest equals want — Apply trusts the chain's own hash
// invariant and does not re-hash internally (hashing a large document is
// the caller's to amortize, per spec §9's streaming-hasher note).
func Apply(document any, patches []PatchRecord, have, want string) (any, error) {
	chain, err := SelectChain(patches, have, want)
	if err != nil {
		return nil, err
	}
	for _, p := range chain {
		var err error
		document, err = jsonpatch.ApplyInPlace(document, p.Patch)
		if err != nil {
			return nil, err
		}
	}
	return document, nil
}
