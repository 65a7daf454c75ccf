// Package gallery implements the in-memory 1:N match gallery: an
// ordered list of enrolled templates held behind a single mutex, with
// an atomic build-outside-lock/swap-under-lock reload from the durable
// store. Matching itself runs lock-free against a snapshot of the list
// and is delegated to a Matcher (pkg/matcher).
package gallery

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"github.com/buildbarn/eyed-registry/pkg/codec"
)

// PlainTemplate is a template's plaintext iris/mask scales.
type PlainTemplate struct {
	IrisCodes []*codec.Array3D
	MaskCodes []*codec.Array3D
}

// HETemplate is a template's homomorphically-encrypted representation:
// one ciphertext per scale plus the non-secret popcount sidecar
// required by the HE matching protocol.
type HETemplate struct {
	IrisCiphertexts []*rlwe.Ciphertext
	MaskCiphertexts []*rlwe.Ciphertext
	IrisPopcount    []int
	MaskPopcount    []int
}

// Template is exactly one of Plain or HE, depending on whether the
// registry is running in homomorphic-encryption mode.
type Template struct {
	Plain *PlainTemplate
	HE    *HETemplate
}

// Entry is one enrolled template, projected into the in-memory
// gallery.
type Entry struct {
	TemplateID   uuid.UUID
	IdentityID   uuid.UUID
	IdentityName string
	EyeSide      string
	Template     Template
}

// MatchResult is the outcome of a 1:N query.
type MatchResult struct {
	HammingDistance      float64
	IsMatch              bool
	MatchedTemplateID    *uuid.UUID
	MatchedIdentityID    *uuid.UUID
	MatchedIdentityName  string
	BestRotation         int
}

// NoMatch is the canonical empty-gallery / below-threshold result.
func NoMatch() MatchResult {
	return MatchResult{HammingDistance: 1.0, IsMatch: false}
}

// Matcher scores a probe template against a snapshot of gallery
// entries and returns the best match (or NoMatch).
type Matcher interface {
	Match(ctx context.Context, entries []Entry, probe Template, threshold float64) (MatchResult, error)
}

// Source loads the full set of entries for a gallery reload. Built on
// top of pkg/store plus codec/HE decoding, kept as a narrow interface
// here so tests can supply a fake.
type Source interface {
	LoadEntries(ctx context.Context) ([]Entry, error)
}

// Gallery is the in-memory 1:N match gallery.
type Gallery struct {
	mu      sync.Mutex
	entries []Entry

	matcher Matcher
	source  Source
}

// New constructs an empty Gallery.
func New(matcher Matcher, source Source) *Gallery {
	return &Gallery{matcher: matcher, source: source}
}

// Size returns the current snapshot length.
func (g *Gallery) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// snapshot takes a consistent copy of the current entry list pointer
// under the lock, then releases it; callers run matching against the
// returned slice lock-free.
func (g *Gallery) snapshot() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entries
}

// Enroll appends a new entry to the gallery, assigning it a fresh
// template ID.
func (g *Gallery) Enroll(identityID uuid.UUID, identityName, eyeSide string, template Template) uuid.UUID {
	templateID := uuid.New()
	entry := Entry{
		TemplateID:   templateID,
		IdentityID:   identityID,
		IdentityName: identityName,
		EyeSide:      eyeSide,
		Template:     template,
	}
	g.mu.Lock()
	g.entries = append(g.entries, entry)
	g.mu.Unlock()
	return templateID
}

// RemoveIdentity removes every entry belonging to identityID, returning
// the count removed.
func (g *Gallery) RemoveIdentity(identityID uuid.UUID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := len(g.entries)
	kept := g.entries[:0:0]
	for _, e := range g.entries {
		if e.IdentityID != identityID {
			kept = append(kept, e)
		}
	}
	g.entries = kept
	return before - len(kept)
}

// ReloadFromStore rebuilds the entry list from source outside the
// lock, then swaps it in under the lock. Concurrent matchers see
// either the full old snapshot or the full new one, never a partial
// list. Returns the number of entries loaded.
func (g *Gallery) ReloadFromStore(ctx context.Context) (int, error) {
	entries, err := g.source.LoadEntries(ctx)
	if err != nil {
		return 0, err
	}
	g.mu.Lock()
	g.entries = entries
	g.mu.Unlock()
	return len(entries), nil
}

// CheckDuplicate runs the 1:N query at the (stricter) dedup threshold,
// returning the matched identity ID if the probe is already enrolled.
func (g *Gallery) CheckDuplicate(ctx context.Context, probe Template, dedupThreshold float64) (*uuid.UUID, error) {
	result, err := g.match(ctx, probe, dedupThreshold)
	if err != nil {
		return nil, err
	}
	if result.IsMatch {
		return result.MatchedIdentityID, nil
	}
	return nil, nil
}

// Match runs the 1:N query at the (looser) recognition threshold.
func (g *Gallery) Match(ctx context.Context, probe Template, matchThreshold float64) (MatchResult, error) {
	return g.match(ctx, probe, matchThreshold)
}

// IdentityName returns the display name recorded against the first
// entry found for identityID, if any.
func (g *Gallery) IdentityName(identityID uuid.UUID) (string, bool) {
	for _, e := range g.snapshot() {
		if e.IdentityID == identityID {
			return e.IdentityName, true
		}
	}
	return "", false
}

func (g *Gallery) match(ctx context.Context, probe Template, threshold float64) (MatchResult, error) {
	entries := g.snapshot()
	if len(entries) == 0 {
		return NoMatch(), nil
	}
	return g.matcher.Match(ctx, entries, probe, threshold)
}
