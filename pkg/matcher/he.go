package matcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/buildbarn/eyed-registry/pkg/bus"
	"github.com/buildbarn/eyed-registry/pkg/errs"
	"github.com/buildbarn/eyed-registry/pkg/gallery"
	"github.com/buildbarn/eyed-registry/pkg/he"
)

// HE scores pairs of HE templates using the encrypted-inner-product
// protocol, grounded on original_source/he_matcher.py and
// key_client.py. No rotational alignment is applied in this path (a
// single nominal rotation).
type HE struct {
	Ctx *he.Context
	// Conn is the NATS connection used for remote decrypt requests.
	// Required unless Ctx.HasSecretKey() (test/PoC mode).
	Conn              *bus.Conn
	KeyServiceSubject string
	MaxCtsPerRequest  int
	RequestTimeout    time.Duration
	Log               *logrus.Entry
}

var _ gallery.Matcher = (*HE)(nil)

// Match scores probe against every entry. When the context holds a
// local secret key, decryption happens in-process; otherwise the
// encrypted inner products are shipped to the key holder over NATS.
func (m *HE) Match(ctx context.Context, entries []gallery.Entry, probe gallery.Template, threshold float64) (gallery.MatchResult, error) {
	if probe.HE == nil {
		return gallery.MatchResult{}, errs.New(errs.KindDecodeError, "HE matcher requires an HE-encoded probe")
	}
	if m.Ctx.HasSecretKey() {
		return m.matchLocal(entries, probe.HE, threshold)
	}
	return m.matchRemote(ctx, entries, probe.HE, threshold)
}

// matchLocal decrypts inner products in-process (test/PoC mode only).
func (m *HE) matchLocal(entries []gallery.Entry, probe *gallery.HETemplate, threshold float64) (gallery.MatchResult, error) {
	bestDistance := 1.0
	var bestEntry *gallery.Entry

	for i := range entries {
		entry := &entries[i]
		if entry.Template.HE == nil {
			continue
		}
		distance, err := m.scorePairLocal(probe, entry.Template.HE)
		if err != nil {
			m.Log.WithError(err).WithField("template_id", entry.TemplateID).Warn("HE matching failed against entry, skipping")
			continue
		}
		if distance < bestDistance {
			bestDistance = distance
			bestEntry = entry
		}
	}

	isMatch := bestDistance < threshold
	result := gallery.MatchResult{HammingDistance: bestDistance, IsMatch: isMatch}
	if isMatch && bestEntry != nil {
		result.MatchedTemplateID = &bestEntry.TemplateID
		result.MatchedIdentityID = &bestEntry.IdentityID
		result.MatchedIdentityName = bestEntry.IdentityName
	}
	return result, nil
}

func (m *HE) scorePairLocal(probe, entry *gallery.HETemplate) (float64, error) {
	nCodes := len(probe.IrisCiphertexts)
	if len(entry.IrisCiphertexts) < nCodes {
		nCodes = len(entry.IrisCiphertexts)
	}
	if nCodes == 0 {
		return 1.0, nil
	}

	var totalXor, totalBits int
	for i := 0; i < nCodes; i++ {
		inner, err := m.Ctx.InnerProduct(probe.IrisCiphertexts[i], entry.IrisCiphertexts[i])
		if err != nil {
			return 0, err
		}
		ipVal, err := m.Ctx.DecryptScalar(inner)
		if err != nil {
			return 0, err
		}
		xorCount := probe.IrisPopcount[i] + entry.IrisPopcount[i] - 2*int(ipVal)
		totalXor += xorCount
		totalBits += he.IrisCodeSlots
	}
	if totalBits == 0 {
		return 1.0, nil
	}
	return float64(totalXor) / float64(totalBits), nil
}

// decryptBatchEntry is one gallery entry's contribution to a remote
// decrypt-batch request.
type decryptBatchEntry struct {
	TemplateID          string   `json:"template_id"`
	IdentityID          string   `json:"identity_id"`
	IdentityName        string   `json:"identity_name"`
	EncInnerProductsB64 []string `json:"enc_inner_products_b64"`
	ProbeIrisPopcount   []int    `json:"probe_iris_popcount"`
	GalleryIrisPopcount []int    `json:"gallery_iris_popcount"`
	ProbeMaskPopcount   []int    `json:"probe_mask_popcount"`
	GalleryMaskPopcount []int    `json:"gallery_mask_popcount"`
}

type decryptBatchRequest struct {
	Threshold float64             `json:"threshold"`
	Entries   []decryptBatchEntry `json:"entries"`
}

type decryptBatchResponse struct {
	HammingDistance     float64 `json:"hamming_distance"`
	IsMatch             bool    `json:"is_match"`
	MatchedIdentityID   string  `json:"matched_identity_id,omitempty"`
	MatchedIdentityName string  `json:"matched_identity_name,omitempty"`
	Error               string  `json:"error,omitempty"`
}

// matchRemote computes encrypted inner products for every entry, then
// ships them (chunked to stay under MaxCtsPerRequest) to the key
// holder for decryption and distance computation.
func (m *HE) matchRemote(ctx context.Context, entries []gallery.Entry, probe *gallery.HETemplate, threshold float64) (gallery.MatchResult, error) {
	if m.Conn == nil || !m.Conn.IsConnected() {
		m.Log.Warn("cannot decrypt: NATS not connected")
		return gallery.NoMatch(), nil
	}

	batchEntries := make([]decryptBatchEntry, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		if entry.Template.HE == nil {
			continue
		}
		nCodes := len(probe.IrisCiphertexts)
		if len(entry.Template.HE.IrisCiphertexts) < nCodes {
			nCodes = len(entry.Template.HE.IrisCiphertexts)
		}
		innerB64 := make([]string, nCodes)
		for i2 := 0; i2 < nCodes; i2++ {
			inner, err := m.Ctx.InnerProduct(probe.IrisCiphertexts[i2], entry.Template.HE.IrisCiphertexts[i2])
			if err != nil {
				m.Log.WithError(err).WithField("template_id", entry.TemplateID).Warn("failed to compute inner product, skipping entry")
				innerB64 = nil
				break
			}
			data, err := m.Ctx.Serialize(inner)
			if err != nil {
				innerB64 = nil
				break
			}
			innerB64[i2] = base64.StdEncoding.EncodeToString(data)
		}
		if innerB64 == nil {
			continue
		}
		batchEntries = append(batchEntries, decryptBatchEntry{
			TemplateID:          entry.TemplateID.String(),
			IdentityID:          entry.IdentityID.String(),
			IdentityName:        entry.IdentityName,
			EncInnerProductsB64: innerB64,
			ProbeIrisPopcount:   probe.IrisPopcount,
			GalleryIrisPopcount: entry.Template.HE.IrisPopcount,
			ProbeMaskPopcount:   probe.MaskPopcount,
			GalleryMaskPopcount: entry.Template.HE.MaskPopcount,
		})
	}

	if len(batchEntries) == 0 {
		return gallery.NoMatch(), nil
	}

	best := gallery.NoMatch()
	chunk := make([]decryptBatchEntry, 0, len(batchEntries))
	chunkCts := 0
	flush := func() {
		if len(chunk) == 0 {
			return
		}
		result := m.sendDecryptRequest(ctx, chunk, threshold)
		if result.HammingDistance < best.HammingDistance {
			best = result
		}
		chunk = chunk[:0]
		chunkCts = 0
	}

	for _, e := range batchEntries {
		entryCts := len(e.EncInnerProductsB64)
		if chunkCts+entryCts > m.MaxCtsPerRequest && len(chunk) > 0 {
			flush()
		}
		chunk = append(chunk, e)
		chunkCts += entryCts
	}
	flush()

	return best, nil
}

func (m *HE) sendDecryptRequest(ctx context.Context, entries []decryptBatchEntry, threshold float64) gallery.MatchResult {
	payload, err := json.Marshal(decryptBatchRequest{Threshold: threshold, Entries: entries})
	if err != nil {
		m.Log.WithError(err).Error("failed to encode decrypt_batch request")
		return gallery.NoMatch()
	}

	timeout := m.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	subject := m.KeyServiceSubject + ".decrypt_batch"
	msg, err := m.Conn.RawConn().RequestWithContext(reqCtx, subject, payload)
	if err != nil {
		m.Log.WithError(err).Error("key-service decrypt_batch request failed")
		return gallery.NoMatch()
	}

	var resp decryptBatchResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		m.Log.WithError(err).Error("failed to decode decrypt_batch response")
		return gallery.NoMatch()
	}
	if resp.Error != "" {
		m.Log.WithField("error", resp.Error).Error("key-service error")
		return gallery.NoMatch()
	}

	result := gallery.MatchResult{HammingDistance: resp.HammingDistance, IsMatch: resp.IsMatch}
	if resp.MatchedIdentityID != "" {
		if id, err := uuid.Parse(resp.MatchedIdentityID); err == nil {
			result.MatchedIdentityID = &id
		}
	}
	result.MatchedIdentityName = resp.MatchedIdentityName
	return result
}
