package handler

import (
	"time"

	"prefixd/internal/registry/models"
	id "prefixd/pkg/domain"
)

type PrefixResponse struct {
	Prefix        string         `json:"prefix"`
	Owner         id.Principal   `json:"owner"`
	Status        models.Status  `json:"status"`
	MetadataURI   string         `json:"metadata_uri"`
	MetadataHash  id.Hash        `json:"metadata_hash"`
	RefHash       *id.Hash       `json:"ref_hash,omitempty"`
	AuthorityKeys []id.Principal `json:"authority_keys"`
	FeePaid       uint64         `json:"fee_paid"`
	ExpiryAt      time.Time      `json:"expiry_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func unix(ts int64) time.Time { return time.Unix(ts, 0).UTC() }

func FromPrefix(p *models.Prefix) *PrefixResponse {
	resp := &PrefixResponse{
		Prefix:        p.Key,
		Owner:         p.Owner,
		Status:        p.Status,
		MetadataURI:   p.MetadataURI,
		MetadataHash:  p.MetadataHash,
		AuthorityKeys: p.AuthorityKeys,
		FeePaid:       p.FeePaid,
		ExpiryAt:      unix(p.ExpiryAt),
		CreatedAt:     unix(p.CreatedAt),
		UpdatedAt:     unix(p.UpdatedAt),
	}
	if resp.AuthorityKeys == nil {
		resp.AuthorityKeys = []id.Principal{}
	}
	if !p.RefHash.IsZero() {
		ref := p.RefHash
		resp.RefHash = &ref
	}
	return resp
}

type PrefixListResponse struct {
	Prefixes []*PrefixResponse `json:"prefixes"`
	Next     string            `json:"next,omitempty"`
}

type ConfigResponse struct {
	Admin      id.Principal `json:"admin"`
	CurrentFee uint64       `json:"current_fee"`
	Paused     bool         `json:"paused"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func FromConfig(c *models.RegistryConfig) *ConfigResponse {
	return &ConfigResponse{Admin: c.Admin, CurrentFee: c.CurrentFee, Paused: c.Paused, UpdatedAt: unix(c.UpdatedAt)}
}

type VerifiersResponse struct {
	Verifiers []id.Principal `json:"verifiers"`
	Count     int            `json:"count"`
}

func FromDirectory(d *models.VerifierDirectory) *VerifiersResponse {
	vs := d.Verifiers
	if vs == nil {
		vs = []id.Principal{}
	}
	return &VerifiersResponse{Verifiers: vs, Count: len(vs)}
}

type TreasuryResponse struct {
	Balance uint64 `json:"balance"`
}

type AccountResponse struct {
	Principal id.Principal `json:"principal"`
	Balance   uint64       `json:"balance"`
}
