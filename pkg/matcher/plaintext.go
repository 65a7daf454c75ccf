// Package matcher implements the two 1:N scoring strategies that
// satisfy gallery.Matcher: a plaintext rotation-minimized normalized
// fractional Hamming distance, and a homomorphically-encrypted
// variant that computes encrypted inner products and delegates
// decryption either locally (test mode) or to an out-of-process key
// holder over pkg/bus.
package matcher

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/buildbarn/eyed-registry/pkg/errs"
	"github.com/buildbarn/eyed-registry/pkg/gallery"
)

// Plaintext scores pairs of plaintext templates using rotation-
// minimized, normalized fractional Hamming distance, grounded on
// original_source/matcher.py.
type Plaintext struct {
	RotationShift int
	NormMean      float64
	NormGradient  float64
	Log           *logrus.Entry
}

var _ gallery.Matcher = (*Plaintext)(nil)

// Match scores probe against every entry and returns the closest
// match. If entries is empty the result is gallery.NoMatch(); if no
// distance clears threshold the result is a no-match that still
// reports the best distance found.
func (m *Plaintext) Match(_ context.Context, entries []gallery.Entry, probe gallery.Template, threshold float64) (gallery.MatchResult, error) {
	if probe.Plain == nil {
		return gallery.MatchResult{}, errs.New(errs.KindDecodeError, "plaintext matcher requires a plaintext probe")
	}

	bestDistance := 1.0
	bestRotation := 0
	var bestEntry *gallery.Entry

	for i := range entries {
		entry := &entries[i]
		if entry.Template.Plain == nil {
			m.Log.WithField("template_id", entry.TemplateID).Warn("skipping non-plaintext entry in plaintext matcher")
			continue
		}
		distance, rotation, err := m.scorePair(probe.Plain, entry.Template.Plain)
		if err != nil {
			m.Log.WithError(err).WithField("template_id", entry.TemplateID).Warn("matching failed against entry, skipping")
			continue
		}
		if distance < bestDistance {
			bestDistance = distance
			bestRotation = rotation
			bestEntry = entry
		}
	}

	isMatch := bestDistance < threshold
	result := gallery.MatchResult{HammingDistance: bestDistance, IsMatch: isMatch, BestRotation: bestRotation}
	if isMatch && bestEntry != nil {
		result.MatchedTemplateID = &bestEntry.TemplateID
		result.MatchedIdentityID = &bestEntry.IdentityID
		result.MatchedIdentityName = bestEntry.IdentityName
	}
	return result, nil
}

// scorePair computes the rotation-minimized, normalized fractional
// Hamming distance between probe and gallery entry templates.
func (m *Plaintext) scorePair(probe, entry *gallery.PlainTemplate) (float64, int, error) {
	if len(probe.IrisCodes) != len(entry.IrisCodes) || len(probe.MaskCodes) != len(entry.MaskCodes) {
		return 0, 0, errs.New(errs.KindDecodeError, "probe and gallery template have mismatched scale counts")
	}

	var totalDistance float64
	var totalBitsEqual, totalBits int
	representativeRotation := 0

	for i := range probe.IrisCodes {
		probeIris, probeMask := probe.IrisCodes[i], probe.MaskCodes[i]
		galleryIris, galleryMask := entry.IrisCodes[i], entry.MaskCodes[i]

		bestScaleDistance := 1.0
		bestScaleRotation := 0
		bestScaleBitsEqual := 0

		for r := -m.RotationShift; r <= m.RotationShift; r++ {
			rotatedIris := probeIris.RotateColumns(r)
			rotatedMask := probeMask.RotateColumns(r)
			combinedMask := rotatedMask.And(galleryMask)
			bitsEqual := combinedMask.PopCount()

			var dR float64
			if bitsEqual == 0 {
				dR = 1.0
			} else {
				bitsDiffer := rotatedIris.Xor(galleryIris).And(combinedMask).PopCount()
				dR = float64(bitsDiffer) / float64(bitsEqual)
			}

			if dR < bestScaleDistance {
				bestScaleDistance = dR
				bestScaleRotation = r
				bestScaleBitsEqual = bitsEqual
			}
		}

		totalDistance += bestScaleDistance
		totalBitsEqual += bestScaleBitsEqual
		totalBits += probeIris.Height * probeIris.Width * 2
		if i == 0 {
			representativeRotation = bestScaleRotation
		}
	}

	avgDistance := totalDistance / float64(len(probe.IrisCodes))
	n0 := m.NormMean * float64(totalBits)
	normalized := avgDistance + m.NormGradient*(n0-float64(totalBitsEqual))
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	return normalized, representativeRotation, nil
}
