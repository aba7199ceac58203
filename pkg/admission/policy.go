// Copyright 2025 Certen Protocol
//
// Admission policy: allow/block lists and the known-spammer size+no-tags
// heuristic.

package admission

// Policy holds the static owner/size policies an upload is checked
// against.
type Policy struct {
	AllowListedOwners    map[string]bool
	BlockListedOwners    map[string]bool
	SpammerExactByteSize int64
	FreeUploadLimitBytes int64
	MaxSingleItemBytes   int64
	OpticalBridgeEnabled bool
	OpticalSkipOwners    map[string]bool
}

// NewPolicy builds a Policy from the plain slices config.Config stores,
// indexing the owner lists for O(1) lookups.
func NewPolicy(allowList, blockList, opticalSkipList []string, spammerSize, freeLimit, maxSingle int64, opticalEnabled bool) *Policy {
	return &Policy{
		AllowListedOwners:    toSet(allowList),
		BlockListedOwners:    toSet(blockList),
		SpammerExactByteSize: spammerSize,
		FreeUploadLimitBytes: freeLimit,
		MaxSingleItemBytes:   maxSingle,
		OpticalBridgeEnabled: opticalEnabled,
		OpticalSkipOwners:    toSet(opticalSkipList),
	}
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}

// IsAllowListed reports whether an owner skips the payment gate.
func (p *Policy) IsAllowListed(owner string) bool { return p.AllowListedOwners[owner] }

// IsBlockListed reports whether an owner is rejected outright.
func (p *Policy) IsBlockListed(owner string) bool { return p.BlockListedOwners[owner] }

// IsFreeUpload reports whether byteCount falls within the free tier.
func (p *Policy) IsFreeUpload(byteCount int64) bool { return byteCount <= p.FreeUploadLimitBytes }

// IsSpammerPattern flags the "exact size, no tags" heuristic the spec names
// as a 403 rejection.
func (p *Policy) IsSpammerPattern(byteCount int64, tagCount int) bool {
	return p.SpammerExactByteSize > 0 && byteCount == p.SpammerExactByteSize && tagCount == 0
}

// SkipsOpticalBridge reports whether owner is on the optical skip-list.
func (p *Policy) SkipsOpticalBridge(owner string) bool { return p.OpticalSkipOwners[owner] }
